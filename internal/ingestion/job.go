package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/rs/zerolog"
)

// Job kinds.
const (
	KindCreate = "create"
	KindClose  = "close"
)

// Job is the effect bunch of one operation, queued for the vote store.
type Job struct {
	Kind        string           `json:"kind"`
	OperationID string           `json:"operation_id"`
	Effects     []horizon.Effect `json:"effects"`
}

// MsgID identifies the job for broker-side deduplication.
func (j Job) MsgID() string {
	return j.Kind + ":" + j.OperationID
}

// Dispatcher hands classified bunches to the job handler, either directly or
// through a broker.
type Dispatcher interface {
	DispatchCreate(ctx context.Context, job Job) error
	DispatchClose(ctx context.Context, job Job) error
}

// VoteStore is the part of the vote repository jobs write to.
type VoteStore interface {
	InsertVote(ctx context.Context, v vote.Vote) (bool, error)
	MarkClaimedBack(ctx context.Context, balanceID string, at time.Time) (bool, error)
}

// JobHandler applies jobs to the vote store. Applying the same job twice leaves
// the store unchanged.
type JobHandler struct {
	parser  *vote.Parser
	votes   VoteStore
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewJobHandler(parser *vote.Parser, votes VoteStore, logger zerolog.Logger, metrics *observability.Metrics) *JobHandler {
	return &JobHandler{parser: parser, votes: votes, logger: logger, metrics: metrics}
}

// Handle applies a job. Records that are not valid votes are dropped and
// reported as success so they are never retried.
func (h *JobHandler) Handle(ctx context.Context, job Job) error {
	var (
		outcome string
		err     error
	)
	switch job.Kind {
	case KindCreate:
		outcome, err = h.create(ctx, job)
	case KindClose:
		outcome, err = h.close(ctx, job)
	default:
		return fmt.Errorf("job %s: unknown kind %q", job.OperationID, job.Kind)
	}

	if err != nil {
		outcome = "error"
	}
	if h.metrics != nil {
		h.metrics.JobsProcessed.WithLabelValues(job.Kind, outcome).Inc()
	}
	return err
}

func (h *JobHandler) create(ctx context.Context, job Job) (string, error) {
	v, err := h.parser.ParseEffectBundle(job.Effects)
	if err != nil {
		return h.drop(job, err)
	}

	inserted, err := h.votes.InsertVote(ctx, *v)
	if err != nil {
		return "", fmt.Errorf("insert vote %s: %w", v.BalanceID, err)
	}
	if !inserted {
		h.logger.Warn().Str("balance_id", v.BalanceID).Msg("vote already exists")
		if h.metrics != nil {
			h.metrics.VotesSkipped.Inc()
		}
		return "duplicate", nil
	}

	h.logger.Debug().
		Str("balance_id", v.BalanceID).
		Str("market_key", v.MarketKey).
		Str("amount", v.Amount.String()).
		Msg("vote created")
	if h.metrics != nil {
		h.metrics.VotesInserted.Inc()
	}
	return "inserted", nil
}

func (h *JobHandler) close(ctx context.Context, job Job) (string, error) {
	var closed *horizon.Effect
	for i := range job.Effects {
		t := job.Effects[i].Type
		if t == horizon.EffectClaimableBalanceClaimed || t == horizon.EffectClaimableBalanceClawedBack {
			closed = &job.Effects[i]
			break
		}
	}
	if closed == nil {
		return h.drop(job, &vote.ParseError{Reason: vote.ReasonMissingEffect})
	}

	at, err := time.Parse(time.RFC3339, closed.CreatedAt)
	if err != nil {
		return h.drop(job, &vote.ParseError{Reason: vote.ReasonInvalidDateFormat, BalanceID: closed.BalanceID})
	}

	updated, err := h.votes.MarkClaimedBack(ctx, closed.BalanceID, at.UTC())
	if err != nil {
		return "", fmt.Errorf("mark claimed back %s: %w", closed.BalanceID, err)
	}
	if !updated {
		return "noop", nil
	}

	h.logger.Debug().Str("balance_id", closed.BalanceID).Time("claimed_back_at", at).Msg("vote claimed back")
	if h.metrics != nil {
		h.metrics.VotesClosed.Inc()
	}
	return "closed", nil
}

func (h *JobHandler) drop(job Job, err error) (string, error) {
	var perr *vote.ParseError
	if !errors.As(err, &perr) {
		return "", err
	}
	h.logger.Info().
		Str("operation_id", job.OperationID).
		Str("kind", job.Kind).
		Str("reason", string(perr.Reason)).
		Msg("record dropped")
	if h.metrics != nil {
		h.metrics.ParseDropped.WithLabelValues(job.Kind, string(perr.Reason)).Inc()
	}
	return "dropped", nil
}

// InlineDispatcher runs jobs synchronously in the caller's goroutine.
type InlineDispatcher struct {
	handler *JobHandler
}

func NewInlineDispatcher(handler *JobHandler) *InlineDispatcher {
	return &InlineDispatcher{handler: handler}
}

func (d *InlineDispatcher) DispatchCreate(ctx context.Context, job Job) error {
	job.Kind = KindCreate
	return d.handler.Handle(ctx, job)
}

func (d *InlineDispatcher) DispatchClose(ctx context.Context, job Job) error {
	job.Kind = KindClose
	return d.handler.Handle(ctx, job)
}
