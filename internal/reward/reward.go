// Package reward turns the latest voting snapshot into daily reward values per
// market and splits each market's reward between the order book and the pool.
package reward

import (
	"errors"

	"github.com/AquaToken/aqua-voting-tracker/internal/config"
	"github.com/shopspring/decimal"
)

// ErrUnknownMarket is returned when a reward-zone market is missing from the
// market-key directory.
var ErrUnknownMarket = errors.New("reward: market not in directory")

// MarketReward is one market in the reward zone.
type MarketReward struct {
	MarketKey  string          `json:"market_key"`
	VotesValue decimal.Decimal `json:"votes_value"`
	Asset1     string          `json:"asset1"`
	Asset2     string          `json:"asset2"`

	Share       decimal.Decimal `json:"share"`
	RewardValue decimal.Decimal `json:"reward_value"`

	SDEXShare       decimal.Decimal `json:"sdex_share"`
	AMMShare        decimal.Decimal `json:"amm_share"`
	SDEXRewardValue decimal.Decimal `json:"sdex_reward_value"`
	AMMRewardValue  decimal.Decimal `json:"amm_reward_value"`
}

// Params are the allocation parameters.
type Params struct {
	MinShare  decimal.Decimal
	MaxShare  decimal.Decimal
	Total     decimal.Decimal
	SDEXShare decimal.Decimal
	AMMShare  decimal.Decimal
	SplitMode string
}

func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		MinShare:  cfg.MinShareForRewardZone,
		MaxShare:  cfg.RewardMaxShare,
		Total:     cfg.TotalRewardValue,
		SDEXShare: cfg.SDEXShare,
		AMMShare:  cfg.AMMShare,
		SplitMode: cfg.RewardSplitMode,
	}
}

// candidateLimit is int(1/MinShare): no more markets can clear the threshold.
func (p Params) candidateLimit() int {
	return int(decimal.NewFromInt(1).Div(p.MinShare).IntPart())
}

// staticAMMWeight is AMM_SHARE / (AMM_SHARE + SDEX_SHARE).
func (p Params) staticAMMWeight() decimal.Decimal {
	return p.AMMShare.Div(p.AMMShare.Add(p.SDEXShare))
}

// split applies an AMM weight to the market's reward value.
func (r *MarketReward) split(ammWeight decimal.Decimal) {
	r.AMMShare = ammWeight.RoundBank(2)
	r.SDEXShare = decimal.NewFromInt(1).Sub(r.AMMShare)
	r.AMMRewardValue = r.RewardValue.Mul(r.AMMShare).RoundBank(0)
	r.SDEXRewardValue = r.RewardValue.Sub(r.AMMRewardValue)
}
