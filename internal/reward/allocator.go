package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/allocation"
	"github.com/AquaToken/aqua-voting-tracker/internal/config"
	"github.com/AquaToken/aqua-voting-tracker/internal/depth"
	"github.com/AquaToken/aqua-voting-tracker/internal/marketkeys"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SnapshotReader reads the latest snapshot.
type SnapshotReader interface {
	LatestStats(ctx context.Context) (*persistence.SnapshotStats, error)
	RewardCandidates(ctx context.Context, limit int) ([]persistence.SnapshotRow, error)
}

// MarketLoader loads order book and pool liquidity for asset pairs.
type MarketLoader interface {
	LoadAll(ctx context.Context, pairs []depth.Pair) ([]*depth.MarketData, error)
}

// Fallback reasons for the static split.
const (
	fallbackLoadError = "load_error"
	fallbackNotLoaded = "not_loaded"
	fallbackDiverged  = "diverged"
	fallbackError     = "error"
)

// Allocator computes the reward zone and caches the result.
type Allocator struct {
	snapshots SnapshotReader
	markets   marketkeys.Provider
	loader    MarketLoader
	cache     *Cache
	params    Params
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewAllocator creates an allocator. loader may be nil in static split mode;
// cache may be nil when results are not stored.
func NewAllocator(
	snapshots SnapshotReader,
	markets marketkeys.Provider,
	loader MarketLoader,
	cache *Cache,
	params Params,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Allocator {
	return &Allocator{
		snapshots: snapshots,
		markets:   markets,
		loader:    loader,
		cache:     cache,
		params:    params,
		now:       time.Now,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run computes the current rewards and stores them in the cache.
func (a *Allocator) Run(ctx context.Context) ([]MarketReward, error) {
	start := time.Now()
	rewards, err := a.run(ctx)

	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		} else {
			a.metrics.RewardMarkets.Set(float64(len(rewards)))
		}
		a.metrics.RewardRuns.WithLabelValues(status).Inc()
		a.metrics.RewardDuration.Observe(time.Since(start).Seconds())
	}
	return rewards, err
}

func (a *Allocator) run(ctx context.Context) ([]MarketReward, error) {
	rewards, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.Store(ctx, rewards, a.now()); err != nil {
			return nil, err
		}
	}

	a.logger.Info().Int("markets", len(rewards)).Msg("rewards updated")
	return rewards, nil
}

// Compute runs the allocation without caching.
func (a *Allocator) Compute(ctx context.Context) ([]MarketReward, error) {
	zone, err := a.rewardZone(ctx)
	if err != nil {
		return nil, err
	}
	if len(zone) == 0 {
		return []MarketReward{}, nil
	}
	if err := a.connectAssets(ctx, zone); err != nil {
		return nil, err
	}
	if err := a.setRewardValues(zone); err != nil {
		return nil, err
	}
	if err := a.distribute(ctx, zone); err != nil {
		return nil, err
	}
	return zone, nil
}

// rewardZone returns the leading candidates whose adjusted value is at least
// MinShare of the snapshot total.
func (a *Allocator) rewardZone(ctx context.Context) ([]MarketReward, error) {
	stats, err := a.snapshots.LatestStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot stats: %w", err)
	}
	total := stats.AdjustedVotesValueSum
	if !total.IsPositive() {
		return nil, nil
	}

	candidates, err := a.snapshots.RewardCandidates(ctx, a.params.candidateLimit())
	if err != nil {
		return nil, fmt.Errorf("load reward candidates: %w", err)
	}

	var zone []MarketReward
	for _, c := range candidates {
		if c.AdjustedVotesValue.Div(total).LessThan(a.params.MinShare) {
			break
		}
		zone = append(zone, MarketReward{MarketKey: c.MarketKey, VotesValue: c.AdjustedVotesValue})
	}
	return zone, nil
}

func (a *Allocator) connectAssets(ctx context.Context, zone []MarketReward) error {
	keys := make([]string, len(zone))
	for i, r := range zone {
		keys[i] = r.MarketKey
	}
	markets, err := a.markets.GetMultiple(ctx, keys)
	if err != nil {
		return fmt.Errorf("resolve reward markets: %w", err)
	}

	byKey := make(map[string]marketkeys.Market, len(markets))
	for _, m := range markets {
		byKey[m.AccountID] = m
	}
	for i := range zone {
		m, ok := byKey[zone[i].MarketKey]
		if !ok {
			return fmt.Errorf("%s: %w", zone[i].MarketKey, ErrUnknownMarket)
		}
		zone[i].Asset1 = m.Asset1
		zone[i].Asset2 = m.Asset2
	}
	return nil
}

func (a *Allocator) setRewardValues(zone []MarketReward) error {
	values := make([]decimal.Decimal, len(zone))
	for i, r := range zone {
		values[i] = r.VotesValue
	}
	shares, err := allocation.CappedShares(values, a.params.MaxShare)
	if err != nil {
		return fmt.Errorf("reward shares: %w", err)
	}

	totalShare := allocation.Sum(shares)
	for i := range zone {
		zone[i].RewardValue = a.params.Total.Mul(shares[i]).Div(totalShare).RoundBank(0)
		zone[i].Share = shares[i].RoundBank(4)
	}
	return nil
}

func (a *Allocator) distribute(ctx context.Context, zone []MarketReward) error {
	static := a.params.staticAMMWeight()
	if a.params.SplitMode != config.SplitDynamic || a.loader == nil {
		for i := range zone {
			zone[i].split(static)
		}
		return nil
	}

	index := make(map[depth.Pair]int)
	var pairs []depth.Pair
	for _, r := range zone {
		p := depth.Pair{Asset1: r.Asset1, Asset2: r.Asset2}
		if _, ok := index[p]; !ok {
			index[p] = len(pairs)
			pairs = append(pairs, p)
		}
	}

	data, err := a.loader.LoadAll(ctx, pairs)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("load market data: %w", ctx.Err())
		}
		a.logger.Warn().Err(err).Msg("market data partially loaded")
	}

	for i := range zone {
		md := data[index[depth.Pair{Asset1: zone[i].Asset1, Asset2: zone[i].Asset2}]]
		weight, reason := a.dynamicWeight(md)
		if reason != "" {
			a.fallback(zone[i].MarketKey, reason)
			weight = static
		}
		zone[i].split(weight)
	}
	return nil
}

// dynamicWeight returns the AMM weight of a market, or a fallback reason.
func (a *Allocator) dynamicWeight(md *depth.MarketData) (decimal.Decimal, string) {
	if md == nil {
		return decimal.Zero, fallbackLoadError
	}
	if !md.Loaded() {
		return decimal.Zero, fallbackNotLoaded
	}
	_, amm, err := depth.Weights(md)
	switch {
	case errors.Is(err, depth.ErrIntegrationDiverged):
		return decimal.Zero, fallbackDiverged
	case err != nil:
		a.logger.Warn().Err(err).Str("asset1", md.Asset1).Str("asset2", md.Asset2).Msg("weights failed")
		return decimal.Zero, fallbackError
	}
	return decimal.NewFromFloat(amm), ""
}

func (a *Allocator) fallback(marketKey, reason string) {
	a.logger.Debug().Str("market_key", marketKey).Str("reason", reason).Msg("static split used")
	if a.metrics != nil {
		a.metrics.RewardSplitFallback.WithLabelValues(reason).Inc()
	}
}
