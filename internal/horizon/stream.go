package horizon

import (
	"context"
	"time"
)

// EffectPager fetches one page of effects after a cursor.
type EffectPager interface {
	Effects(ctx context.Context, cursor string, limit int) ([]Effect, error)
}

// EffectStream turns the paginated /effects collection into an ordered, endless
// feed. It polls for new records once it has caught up with the ledger.
type EffectStream struct {
	pager        EffectPager
	pageLimit    int
	pollInterval time.Duration
}

// NewEffectStream creates a stream over pager.
func NewEffectStream(pager EffectPager, pageLimit int, pollInterval time.Duration) *EffectStream {
	if pageLimit <= 0 || pageLimit > DefaultPageLimit {
		pageLimit = DefaultPageLimit
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &EffectStream{pager: pager, pageLimit: pageLimit, pollInterval: pollInterval}
}

// Stream delivers every effect after cursor to handle, in ledger order. It blocks
// until ctx is cancelled, the pager fails, or handle returns an error.
func (s *EffectStream) Stream(ctx context.Context, cursor string, handle func(context.Context, Effect) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		effects, err := s.pager.Effects(ctx, cursor, s.pageLimit)
		if err != nil {
			return err
		}

		for _, e := range effects {
			if err := handle(ctx, e); err != nil {
				return err
			}
			cursor = e.PagingToken
		}

		if len(effects) < s.pageLimit {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}
		}
	}
}
