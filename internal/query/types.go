package query

import (
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/shopspring/decimal"
)

// SnapshotView is one market row of the latest snapshot.
type SnapshotView struct {
	Timestamp          time.Time       `json:"timestamp"`
	MarketKey          string          `json:"market_key"`
	Rank               int             `json:"rank"`
	VotesValue         decimal.Decimal `json:"votes_value"`
	VotingAmount       int             `json:"voting_amount"`
	AdjustedVotesValue decimal.Decimal `json:"adjusted_votes_value"`
	UpvoteValue        decimal.Decimal `json:"upvote_value"`
	DownvoteValue      decimal.Decimal `json:"downvote_value"`
	Extra              SnapshotExtra   `json:"extra"`
}

// SnapshotExtra is the per-asset breakdown of a row.
type SnapshotExtra struct {
	UpvoteAssets   []persistence.AssetStats `json:"upvote_assets"`
	DownvoteAssets []persistence.AssetStats `json:"downvote_assets"`
}

// StatsView aggregates the latest snapshot. Timestamp is null before the first
// snapshot.
type StatsView struct {
	Timestamp             *time.Time               `json:"timestamp"`
	MarketKeyCount        int                      `json:"market_key_count"`
	VotesValueSum         decimal.Decimal          `json:"votes_value_sum"`
	VotingAmountSum       int64                    `json:"voting_amount_sum"`
	AdjustedVotesValueSum decimal.Decimal          `json:"adjusted_votes_value_sum"`
	TotalVotesSum         decimal.Decimal          `json:"total_votes_sum"`
	Assets                []persistence.AssetStats `json:"assets"`
}

// AccountVoteView is one voting account's total on a market.
type AccountVoteView struct {
	VotingAccount string          `json:"voting_account"`
	VotesValue    decimal.Decimal `json:"votes_value"`
}

// MarketPair names the two assets of a rewarded market. Issuers are null for
// the native asset.
type MarketPair struct {
	Asset1Code   string  `json:"asset1_code"`
	Asset1Issuer *string `json:"asset1_issuer"`
	Asset2Code   string  `json:"asset2_code"`
	Asset2Issuer *string `json:"asset2_issuer"`
}

// RewardView is the daily reward of one market.
type RewardView struct {
	MarketKey           MarketPair      `json:"market_key"`
	DailySDEXReward     decimal.Decimal `json:"daily_sdex_reward"`
	DailyAMMReward      decimal.Decimal `json:"daily_amm_reward"`
	DailySDEXPercentage decimal.Decimal `json:"daily_sdex_percentage"`
	DailyAMMPercentage  decimal.Decimal `json:"daily_amm_percentage"`
	DailyTotalReward    decimal.Decimal `json:"daily_total_reward"`
	LastUpdated         time.Time       `json:"last_updated"`
}

// RewardStatsView totals the cached rewards.
type RewardStatsView struct {
	TotalDailySDEXReward decimal.Decimal `json:"total_daily_sdex_reward"`
	TotalDailyAMMReward  decimal.Decimal `json:"total_daily_amm_reward"`
	LastUpdated          time.Time       `json:"last_updated"`
}

// Page is a slice of a longer listing.
type Page[T any] struct {
	Results []T
	// Next is the cursor of the following page, empty on the last page.
	Next string
	// Previous is the cursor of the preceding page, empty on the first page.
	Previous string
}
