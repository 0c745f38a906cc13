package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/rs/zerolog"
)

// EffectsCursorKey holds the paging token of the last classified bunch.
const EffectsCursorKey = "voting.effects_cursor"

// EffectHandler receives stream entries one at a time.
type EffectHandler interface {
	HandleEffect(ctx context.Context, e horizon.Effect) error
}

// EffectSource streams effects after a cursor until ctx is done or an error
// occurs. horizon.EffectStream implements it.
type EffectSource interface {
	Stream(ctx context.Context, cursor string, handle func(context.Context, horizon.Effect) error) error
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBackoff sets the restart delay bounds.
func WithBackoff(initial, max time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.minBackoff = initial
		p.maxBackoff = max
	}
}

// Processor groups effects by operation and dispatches vote bunches. It is
// driven by a single goroutine.
type Processor struct {
	source     EffectSource
	dispatcher Dispatcher
	parser     *vote.Parser
	cursors    kvstore.Store
	logger     zerolog.Logger
	metrics    *observability.Metrics

	entry      EffectHandler
	minBackoff time.Duration
	maxBackoff time.Duration

	currentOp string
	pending   []horizon.Effect
}

func NewProcessor(
	source EffectSource,
	dispatcher Dispatcher,
	parser *vote.Parser,
	cursors kvstore.Store,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		source:     source,
		dispatcher: dispatcher,
		parser:     parser,
		cursors:    cursors,
		logger:     logger,
		metrics:    metrics,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	p.entry = p
	if metrics != nil {
		p.entry = NewMeteredHandler(p, metrics)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleEffect adds e to the pending bunch. When the operation changes the
// previous bunch is classified and the cursor advanced past it.
func (p *Processor) HandleEffect(ctx context.Context, e horizon.Effect) error {
	opID := e.OperationID()
	if opID != p.currentOp && len(p.pending) > 0 {
		if err := p.flush(ctx); err != nil {
			return err
		}
	}
	p.currentOp = opID
	p.pending = append(p.pending, e)
	return nil
}

// Run streams from the saved cursor until ctx is cancelled, restarting with
// exponential backoff after any error.
func (p *Processor) Run(ctx context.Context) error {
	backoff := p.minBackoff
	for {
		cursor, _, err := p.cursors.Get(ctx, EffectsCursorKey)
		if err == nil {
			p.logger.Info().Str("cursor", cursor).Msg("effect stream started")
			err = p.source.Stream(ctx, cursor, p.entry.HandleEffect)
		}
		if ctx.Err() != nil {
			return nil
		}

		p.reset()
		if p.metrics != nil {
			p.metrics.StreamRestarts.Inc()
		}
		p.logger.Warn().Err(err).Dur("backoff", backoff).Msg("effect stream stopped, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

func (p *Processor) reset() {
	p.currentOp = ""
	p.pending = nil
}

func (p *Processor) flush(ctx context.Context) error {
	bunch := p.pending
	if err := p.classify(ctx, p.currentOp, bunch); err != nil {
		return err
	}

	cursor := bunch[len(bunch)-1].PagingToken
	if err := p.cursors.Set(ctx, EffectsCursorKey, cursor, kvstore.Forever); err != nil {
		return fmt.Errorf("save effects cursor: %w", err)
	}
	if p.metrics != nil {
		p.metrics.StreamCursorSaves.Inc()
	}
	p.pending = nil
	return nil
}

func (p *Processor) classify(ctx context.Context, opID string, bunch []horizon.Effect) error {
	var (
		created  *horizon.Effect
		closed   bool
		credited *horizon.Effect
	)
	for i := range bunch {
		switch bunch[i].Type {
		case horizon.EffectClaimableBalanceCreated:
			if created == nil {
				created = &bunch[i]
			}
		case horizon.EffectClaimableBalanceClaimed, horizon.EffectClaimableBalanceClawedBack:
			closed = true
		case horizon.EffectAccountCredited:
			if credited == nil {
				credited = &bunch[i]
			}
		}
	}

	job := Job{OperationID: opID, Effects: bunch}
	switch {
	case created != nil:
		if !p.parser.IsVotingAsset(created.Asset) {
			return nil
		}
		job.Kind = KindCreate
		if err := p.dispatcher.DispatchCreate(ctx, job); err != nil {
			return fmt.Errorf("dispatch create %s: %w", opID, err)
		}
	case closed:
		if credited == nil || !p.parser.IsVotingAsset(credited.AssetString()) {
			return nil
		}
		job.Kind = KindClose
		if err := p.dispatcher.DispatchClose(ctx, job); err != nil {
			return fmt.Errorf("dispatch close %s: %w", opID, err)
		}
	default:
		return nil
	}

	if p.metrics != nil {
		p.metrics.StreamBunches.WithLabelValues(job.Kind).Inc()
	}
	return nil
}

// MeteredHandler records receive delay and throughput for every entry before
// passing it on.
type MeteredHandler struct {
	next    EffectHandler
	metrics *observability.Metrics
	now     func() time.Time
}

func NewMeteredHandler(next EffectHandler, metrics *observability.Metrics) *MeteredHandler {
	return &MeteredHandler{next: next, metrics: metrics, now: time.Now}
}

func (m *MeteredHandler) HandleEffect(ctx context.Context, e horizon.Effect) error {
	if created, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		m.metrics.StreamEntryDelay.Observe(m.now().Sub(created).Seconds())
	}
	m.metrics.StreamEntries.Inc()
	return m.next.HandleEffect(ctx, e)
}
