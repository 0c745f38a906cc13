package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/marketkeys"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// VoteAggregator sums eligible votes per target account and asset.
type VoteAggregator interface {
	ActiveEligibleAggregates(ctx context.Context, at time.Time, minTerm time.Duration) ([]persistence.AssetAggregate, error)
}

// Writer persists a complete snapshot atomically.
type Writer interface {
	InsertSnapshot(ctx context.Context, rows []persistence.SnapshotRow) (int64, error)
}

// Result describes one snapshot run.
type Result struct {
	RunID     uuid.UUID
	Timestamp time.Time
	Records   []Record
	Inserted  int64
}

// Engine aggregates votes into a ranked snapshot.
type Engine struct {
	votes   VoteAggregator
	markets marketkeys.Provider
	writer  Writer
	minTerm time.Duration
	retry   persistence.RetryPolicy
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(
	votes VoteAggregator,
	markets marketkeys.Provider,
	writer Writer,
	minTerm time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		votes:   votes,
		markets: markets,
		writer:  writer,
		minTerm: minTerm,
		retry:   persistence.DefaultRetryPolicy,
		logger:  logger,
		metrics: metrics,
	}
}

// Run builds the snapshot for `at` and persists it. A boost cap conflict
// aborts the run before anything is written.
func (e *Engine) Run(ctx context.Context, at time.Time) (*Result, error) {
	start := time.Now()
	res, err := e.run(ctx, at)

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		} else {
			e.metrics.SnapshotMarkets.Set(float64(len(res.Records)))
		}
		e.metrics.SnapshotRuns.WithLabelValues(status).Inc()
		e.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	return res, err
}

// RunTick runs the snapshot for a scheduler tick at now. The snapshot lags the
// tick by one interval so the effect stream has caught up with the boundary.
func (e *Engine) RunTick(ctx context.Context, now time.Time) (*Result, error) {
	return e.Run(ctx, Timestamp(now))
}

func (e *Engine) run(ctx context.Context, at time.Time) (*Result, error) {
	records, err := e.Build(ctx, at)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.New(), Timestamp: at, Records: records}
	rows := make([]persistence.SnapshotRow, len(records))
	for i, r := range records {
		rows[i] = r.row(at, res.RunID)
	}

	err = persistence.Retry(ctx, e.logger, "insert snapshot", e.retry, func(ctx context.Context) error {
		n, err := e.writer.InsertSnapshot(ctx, rows)
		res.Inserted = n
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("run_id", res.RunID.String()).
		Time("timestamp", at).
		Int("markets", len(records)).
		Int64("inserted", res.Inserted).
		Msg("snapshot created")
	return res, nil
}

// Build aggregates, joins, boosts and ranks without persisting.
func (e *Engine) Build(ctx context.Context, at time.Time) ([]Record, error) {
	aggregates, err := e.votes.ActiveEligibleAggregates(ctx, at, e.minTerm)
	if err != nil {
		return nil, fmt.Errorf("aggregate votes: %w", err)
	}

	byAccount := make(map[string][]persistence.AssetAggregate)
	for _, a := range aggregates {
		byAccount[a.Account] = append(byAccount[a.Account], a)
	}
	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	markets, err := e.markets.GetMultiple(ctx, accounts)
	if err != nil {
		return nil, fmt.Errorf("load market keys: %w", err)
	}

	records := Join(markets, byAccount)
	if err := ApplyBoost(records); err != nil {
		return nil, fmt.Errorf("apply boost: %w", err)
	}
	Rank(records)
	return records, nil
}

// Join builds a record for every market with votes on either side.
func Join(markets []marketkeys.Market, byAccount map[string][]persistence.AssetAggregate) []Record {
	records := make([]Record, 0, len(markets))
	for _, m := range markets {
		up := byAccount[m.UpvoteAccountID]
		down := byAccount[m.DownvoteAccountID]
		if len(up) == 0 && len(down) == 0 {
			continue
		}

		r := Record{
			MarketKey:         m.AccountID,
			UpvoteAccountID:   m.UpvoteAccountID,
			DownvoteAccountID: m.DownvoteAccountID,
			VotingBoost:       m.VotingBoost.Decimal,
			VotingBoostCap:    m.VotingBoostCap.Decimal,
		}
		var upCount, downCount int
		r.UpvoteValue, upCount, r.UpvoteAssets = sumAssets(up)
		r.DownvoteValue, downCount, r.DownvoteAssets = sumAssets(down)
		r.VotesValue = r.UpvoteValue.Sub(r.DownvoteValue)
		r.VotingAmount = upCount + downCount
		records = append(records, r)
	}
	return records
}

func sumAssets(aggs []persistence.AssetAggregate) (decimal.Decimal, int, []persistence.AssetStats) {
	total := decimal.Zero
	count := 0
	stats := make([]persistence.AssetStats, 0, len(aggs))
	for _, a := range aggs {
		total = total.Add(a.VotesSum)
		count += a.VotesCount
		stats = append(stats, persistence.AssetStats{Asset: a.Asset, VotesSum: a.VotesSum, VotesCount: a.VotesCount})
	}
	return total, count, stats
}
