// Package query serves read-only views over snapshots, votes and cached
// rewards.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/reward"
	"github.com/shopspring/decimal"
)

// Page size bounds for listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 200
)

// ErrInvalidCursor is returned for a cursor this service did not issue.
var ErrInvalidCursor = errors.New("query: invalid cursor")

// SnapshotReader reads the latest snapshot.
type SnapshotReader interface {
	LatestRows(ctx context.Context, f persistence.SnapshotFilter) ([]persistence.SnapshotRow, error)
	LatestStats(ctx context.Context) (*persistence.SnapshotStats, error)
}

// AccountVoteReader sums eligible votes per voting account.
type AccountVoteReader interface {
	AccountVotes(ctx context.Context, marketKey string, at time.Time, minTerm time.Duration, afterAccount string, limit int) ([]persistence.AccountVotes, error)
}

// RewardReader loads the cached reward list.
type RewardReader interface {
	Load(ctx context.Context) (reward.Cached, error)
}

// Service answers API queries.
type Service struct {
	snapshots SnapshotReader
	votes     AccountVoteReader
	rewards   RewardReader
	minTerm   time.Duration
}

func NewService(snapshots SnapshotReader, votes AccountVoteReader, rewards RewardReader, minTerm time.Duration) *Service {
	return &Service{snapshots: snapshots, votes: votes, rewards: rewards, minTerm: minTerm}
}

// ClampPageSize applies the default and maximum page size.
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return min(n, MaxPageSize)
}

// Snapshots returns the latest rows of the given markets ordered by rank. No
// markets means no rows.
func (s *Service) Snapshots(ctx context.Context, marketKeys []string) ([]SnapshotView, error) {
	if len(marketKeys) == 0 {
		return []SnapshotView{}, nil
	}
	rows, err := s.snapshots.LatestRows(ctx, persistence.SnapshotFilter{MarketKeys: marketKeys, Order: persistence.OrderByRank})
	if err != nil && !persistence.IsNoSnapshot(err) {
		return nil, fmt.Errorf("snapshot rows: %w", err)
	}
	return snapshotViews(rows), nil
}

// Top pages through the latest snapshot in the given order. The cursor is an
// opaque offset.
func (s *Service) Top(ctx context.Context, order persistence.SnapshotOrder, cursor string, limit int) (Page[SnapshotView], error) {
	limit = ClampPageSize(limit)
	offset, err := decodeOffset(cursor)
	if err != nil {
		return Page[SnapshotView]{}, err
	}

	rows, err := s.snapshots.LatestRows(ctx, persistence.SnapshotFilter{Order: order, Limit: limit + 1, Offset: offset})
	if err != nil && !persistence.IsNoSnapshot(err) {
		return Page[SnapshotView]{}, fmt.Errorf("snapshot rows: %w", err)
	}

	page := Page[SnapshotView]{}
	if len(rows) > limit {
		rows = rows[:limit]
		page.Next = encodeOffset(offset + limit)
	}
	if offset > 0 {
		page.Previous = encodeOffset(max(offset-limit, 0))
	}
	page.Results = snapshotViews(rows)
	return page, nil
}

// Stats aggregates the latest snapshot.
func (s *Service) Stats(ctx context.Context) (StatsView, error) {
	stats, err := s.snapshots.LatestStats(ctx)
	if persistence.IsNoSnapshot(err) {
		return StatsView{Assets: []persistence.AssetStats{}}, nil
	}
	if err != nil {
		return StatsView{}, fmt.Errorf("snapshot stats: %w", err)
	}

	ts := stats.Timestamp
	view := StatsView{
		Timestamp:             &ts,
		MarketKeyCount:        stats.MarketKeyCount,
		VotesValueSum:         stats.VotesValueSum,
		VotingAmountSum:       stats.VotingAmountSum,
		AdjustedVotesValueSum: stats.AdjustedVotesValueSum,
		TotalVotesSum:         stats.TotalVotesSum,
		Assets:                stats.Assets,
	}
	if view.Assets == nil {
		view.Assets = []persistence.AssetStats{}
	}
	return view, nil
}

// AccountVotes pages through the per-account vote totals of a market at `at`.
// The cursor is the last voting account of the previous page.
func (s *Service) AccountVotes(ctx context.Context, marketKey string, at time.Time, cursor string, limit int) (Page[AccountVoteView], error) {
	limit = ClampPageSize(limit)
	rows, err := s.votes.AccountVotes(ctx, marketKey, at.UTC(), s.minTerm, cursor, limit+1)
	if err != nil {
		return Page[AccountVoteView]{}, fmt.Errorf("account votes: %w", err)
	}

	page := Page[AccountVoteView]{Results: make([]AccountVoteView, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		page.Next = rows[len(rows)-1].VotingAccount
	}
	for _, r := range rows {
		page.Results = append(page.Results, AccountVoteView{VotingAccount: r.VotingAccount, VotesValue: r.VotesValue})
	}
	return page, nil
}

// Rewards returns the cached rewards.
func (s *Service) Rewards(ctx context.Context) ([]RewardView, error) {
	cached, err := s.rewards.Load(ctx)
	if err != nil {
		return nil, err
	}

	hundred := decimal.NewFromInt(100)
	out := make([]RewardView, 0, len(cached.Rewards))
	for _, r := range cached.Rewards {
		out = append(out, RewardView{
			MarketKey:           marketPair(r.Asset1, r.Asset2),
			DailySDEXReward:     r.SDEXRewardValue,
			DailyAMMReward:      r.AMMRewardValue,
			DailySDEXPercentage: r.SDEXShare.Mul(hundred),
			DailyAMMPercentage:  r.AMMShare.Mul(hundred),
			DailyTotalReward:    r.SDEXRewardValue.Add(r.AMMRewardValue),
			LastUpdated:         cached.LastUpdated,
		})
	}
	return out, nil
}

// RewardStats totals the cached rewards.
func (s *Service) RewardStats(ctx context.Context) (RewardStatsView, error) {
	cached, err := s.rewards.Load(ctx)
	if err != nil {
		return RewardStatsView{}, err
	}
	t := cached.Totals()
	return RewardStatsView{TotalDailySDEXReward: t.SDEX, TotalDailyAMMReward: t.AMM, LastUpdated: t.LastUpdated}, nil
}

func snapshotViews(rows []persistence.SnapshotRow) []SnapshotView {
	out := make([]SnapshotView, 0, len(rows))
	for _, r := range rows {
		extra := SnapshotExtra{UpvoteAssets: r.Extra.UpvoteAssets, DownvoteAssets: r.Extra.DownvoteAssets}
		if extra.UpvoteAssets == nil {
			extra.UpvoteAssets = []persistence.AssetStats{}
		}
		if extra.DownvoteAssets == nil {
			extra.DownvoteAssets = []persistence.AssetStats{}
		}
		out = append(out, SnapshotView{
			Timestamp:          r.Timestamp,
			MarketKey:          r.MarketKey,
			Rank:               r.Rank,
			VotesValue:         r.VotesValue,
			VotingAmount:       r.VotingAmount,
			AdjustedVotesValue: r.AdjustedVotesValue,
			UpvoteValue:        r.UpvoteValue,
			DownvoteValue:      r.DownvoteValue,
			Extra:              extra,
		})
	}
	return out
}

func marketPair(asset1, asset2 string) MarketPair {
	code1, issuer1 := splitAsset(asset1)
	code2, issuer2 := splitAsset(asset2)
	return MarketPair{Asset1Code: code1, Asset1Issuer: issuer1, Asset2Code: code2, Asset2Issuer: issuer2}
}

func splitAsset(asset string) (string, *string) {
	if asset == horizon.NativeAsset {
		return "XLM", nil
	}
	code, issuer, ok := strings.Cut(asset, ":")
	if !ok {
		return asset, nil
	}
	return code, &issuer
}

func encodeOffset(n int) string {
	return "o" + strconv.Itoa(n)
}

func decodeOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, "o")
	if !ok {
		return 0, ErrInvalidCursor
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ErrInvalidCursor
	}
	return n, nil
}
