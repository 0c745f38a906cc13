package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/rs/zerolog"
)

const (
	balancesCursorPrefix = "voting.claimable_balances_cursor:"
	// DefaultBackfillLimit caps the records read per asset in one run.
	DefaultBackfillLimit = 10000
)

// BalancesCursorKey is the backfill cursor key for asset.
func BalancesCursorKey(asset string) string {
	return balancesCursorPrefix + asset
}

// BalanceSource pages through claimable balances of one asset.
type BalanceSource interface {
	ClaimableBalances(ctx context.Context, asset, cursor string, limit int) ([]horizon.ClaimableBalance, error)
}

// VoteBulkWriter inserts votes, skipping balance ids already stored.
type VoteBulkWriter interface {
	InsertVotes(ctx context.Context, votes []vote.Vote) (int64, error)
}

// BalanceLoader backfills votes from the claimable balance collection. It
// catches votes the effect stream missed, for example before the stream cursor
// was first saved.
type BalanceLoader struct {
	source     BalanceSource
	votes      VoteBulkWriter
	cursors    kvstore.Store
	parser     *vote.Parser
	assets     []string
	pageLimit  int
	maxRecords int
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewBalanceLoader(
	source BalanceSource,
	votes VoteBulkWriter,
	cursors kvstore.Store,
	parser *vote.Parser,
	assets []string,
	pageLimit int,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *BalanceLoader {
	if pageLimit <= 0 {
		pageLimit = horizon.DefaultPageLimit
	}
	return &BalanceLoader{
		source:     source,
		votes:      votes,
		cursors:    cursors,
		parser:     parser,
		assets:     assets,
		pageLimit:  pageLimit,
		maxRecords: DefaultBackfillLimit,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run loads every voting asset in turn. It returns the number of votes
// inserted; a failing asset does not stop the others.
func (l *BalanceLoader) Run(ctx context.Context) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, asset := range l.assets {
		n, err := l.loadAsset(ctx, asset)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", asset, err))
		}
	}
	return total, errors.Join(errs...)
}

func (l *BalanceLoader) loadAsset(ctx context.Context, asset string) (int64, error) {
	key := BalancesCursorKey(asset)
	cursor, _, err := l.cursors.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	var inserted int64
	read := 0
	for read < l.maxRecords {
		page, err := l.source.ClaimableBalances(ctx, asset, cursor, l.pageLimit)
		if err != nil {
			return inserted, err
		}
		if len(page) == 0 {
			break
		}
		read += len(page)
		if l.metrics != nil {
			l.metrics.BackfillRecords.Add(float64(len(page)))
		}

		votes := make([]vote.Vote, 0, len(page))
		for _, cb := range page {
			v, err := l.parser.ParseClaimableBalance(cb)
			if err != nil {
				l.dropped(cb.ID, err)
				continue
			}
			votes = append(votes, *v)
		}

		n, err := l.votes.InsertVotes(ctx, votes)
		if err != nil {
			return inserted, fmt.Errorf("insert votes: %w", err)
		}
		inserted += n
		if l.metrics != nil {
			l.metrics.VotesInserted.Add(float64(n))
		}

		cursor = page[len(page)-1].PagingToken
		if err := l.cursors.Set(ctx, key, cursor, kvstore.Forever); err != nil {
			return inserted, fmt.Errorf("save cursor: %w", err)
		}
		if len(page) < l.pageLimit {
			break
		}
	}

	l.logger.Info().Str("asset", asset).Int("read", read).Int64("inserted", inserted).Msg("claimable balances loaded")
	return inserted, nil
}

func (l *BalanceLoader) dropped(balanceID string, err error) {
	reason := "unknown"
	var perr *vote.ParseError
	if errors.As(err, &perr) {
		reason = string(perr.Reason)
	}
	l.logger.Debug().Str("balance_id", balanceID).Str("reason", reason).Msg("claimable balance is not a vote")
	if l.metrics != nil {
		l.metrics.ParseDropped.WithLabelValues("backfill", reason).Inc()
	}
}
