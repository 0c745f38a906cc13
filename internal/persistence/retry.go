package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries a write three more times, starting at 100ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Backoff: 100 * time.Millisecond, MaxBackoff: 30 * time.Second}

// Retry runs fn until it succeeds, the attempts are used up, or ctx is done.
// The backoff doubles between attempts.
func Retry(ctx context.Context, logger zerolog.Logger, op string, p RetryPolicy, fn func(ctx context.Context) error) error {
	backoff := p.Backoff
	var err error
	for attempt := 0; attempt < max(p.Attempts, 1); attempt++ {
		if attempt > 0 {
			logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying")
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}

		if err = fn(ctx); err == nil {
			if attempt > 0 {
				logger.Info().Str("op", op).Int("retries", attempt).Msg("succeeded after retries")
			}
			return nil
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
