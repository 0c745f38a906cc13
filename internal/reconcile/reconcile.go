// Package reconcile marks expired votes as claimed back by checking the latest
// operation on their claimable balance. It covers close events the effect
// stream missed.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/rs/zerolog"
)

// CursorKey holds the id of the last vote checked by a full batch.
const CursorKey = "voting.claim_back_cursor"

// VoteStore reads expired open votes and closes them.
type VoteStore interface {
	ExpiredOpenVotes(ctx context.Context, now time.Time, afterID int64, limit int) ([]vote.Vote, error)
	MarkClaimedBack(ctx context.Context, balanceID string, at time.Time) (bool, error)
}

// OperationSource returns the newest operation on a claimable balance, or nil
// when there is none.
type OperationSource interface {
	LatestOperationForClaimableBalance(ctx context.Context, balanceID string) (*horizon.Operation, error)
}

// Config tunes a reconciler run.
type Config struct {
	BatchLimit     int
	Concurrency    int
	RequestTimeout time.Duration
}

// Result summarises one batch.
type Result struct {
	Checked int
	Updated int
	Failed  int
	// Cursor is the saved cursor after the run; 0 means the scan wrapped.
	Cursor int64
}

// Reconciler checks one batch of expired votes per Run.
type Reconciler struct {
	votes   VoteStore
	ops     OperationSource
	cursors kvstore.Store
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(
	votes VoteStore,
	ops OperationSource,
	cursors kvstore.Store,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Reconciler {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 300
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 15
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	return &Reconciler{
		votes:   votes,
		ops:     ops,
		cursors: cursors,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// Run checks the next batch. Lookup and update failures are counted and
// skipped; only cursor and query failures abort the run.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ClaimBackDuration.Observe(time.Since(start).Seconds())
		}
	}()

	after, err := r.loadCursor(ctx)
	if err != nil {
		return Result{}, err
	}

	batch, err := r.votes.ExpiredOpenVotes(ctx, r.now().UTC(), after, r.cfg.BatchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("load expired votes: %w", err)
	}

	var updated, failed atomic.Int64
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, v := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(v vote.Vote) {
			defer func() {
				<-sem
				wg.Done()
			}()
			ok, err := r.check(ctx, v)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.Warn().Err(err).Str("balance_id", v.BalanceID).Msg("claim back check failed")
			case ok:
				updated.Add(1)
			}
		}(v)
	}
	wg.Wait()

	res := Result{Checked: len(batch), Updated: int(updated.Load()), Failed: int(failed.Load())}
	if len(batch) < r.cfg.BatchLimit {
		if err := r.cursors.Delete(ctx, CursorKey); err != nil {
			return res, fmt.Errorf("clear claim back cursor: %w", err)
		}
	} else {
		res.Cursor = batch[len(batch)-1].ID
		if err := r.cursors.Set(ctx, CursorKey, strconv.FormatInt(res.Cursor, 10), kvstore.Forever); err != nil {
			return res, fmt.Errorf("save claim back cursor: %w", err)
		}
	}

	if r.metrics != nil {
		r.metrics.ClaimBackChecked.Add(float64(res.Checked))
		r.metrics.ClaimBackUpdated.Add(float64(res.Updated))
		r.metrics.ClaimBackErrors.Add(float64(res.Failed))
	}
	r.logger.Info().
		Int("checked", res.Checked).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int64("cursor", res.Cursor).
		Msg("claim back batch done")
	return res, nil
}

// check looks up the balance's latest operation and closes the vote if that
// operation claimed or clawed back the balance.
func (r *Reconciler) check(ctx context.Context, v vote.Vote) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	op, err := r.ops.LatestOperationForClaimableBalance(ctx, v.BalanceID)
	if err != nil {
		return false, fmt.Errorf("latest operation: %w", err)
	}
	if op == nil || !op.ClosesClaimableBalance() {
		return false, nil
	}

	at, err := time.Parse(time.RFC3339, op.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("operation %s created_at: %w", op.ID, err)
	}
	updated, err := r.votes.MarkClaimedBack(ctx, v.BalanceID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark claimed back: %w", err)
	}
	return updated, nil
}

func (r *Reconciler) loadCursor(ctx context.Context) (int64, error) {
	raw, ok, err := r.cursors.Get(ctx, CursorKey)
	if err != nil {
		return 0, fmt.Errorf("load claim back cursor: %w", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Warn().Str("cursor", raw).Msg("invalid claim back cursor, starting over")
		return 0, nil
	}
	return id, nil
}
