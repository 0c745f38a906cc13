// Package schedule runs periodic jobs aligned to wall-clock offsets.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic task. A job fires on the UTC wall-clock multiples of
// Every, shifted by Offset: Every 3m with Offset 1m fires at minutes 1, 4,
// 7 and so on. A run that outlasts its period skips the missed ticks, so runs of
// one job never overlap.
type Job struct {
	Name   string
	Every  time.Duration
	Offset time.Duration
	// RunAtStart fires once immediately before the first aligned tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Next returns the first firing time of j strictly after t.
func (j Job) Next(t time.Time) time.Time {
	base := t.Add(-j.Offset).Truncate(j.Every)
	next := base.Add(j.Offset)
	for !next.After(t) {
		next = next.Add(j.Every)
	}
	return next
}

// Runner drives a set of jobs, one goroutine per job.
type Runner struct {
	jobs   []Job
	logger zerolog.Logger
	now    func() time.Time
}

func NewRunner(logger zerolog.Logger, jobs ...Job) *Runner {
	return &Runner{
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled and every in-flight run has returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, job)
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) loop(ctx context.Context, job Job) {
	log := r.logger.With().Str("job", job.Name).Logger()
	log.Info().Dur("every", job.Every).Dur("offset", job.Offset).Msg("job scheduled")

	if job.RunAtStart {
		r.fire(ctx, log, job)
	}

	for {
		wait := job.Next(r.now()).Sub(r.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.fire(ctx, log, job)
	}
}

func (r *Runner) fire(ctx context.Context, log zerolog.Logger, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := r.now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Dur("elapsed", r.now().Sub(start)).Msg("job failed")
		return
	}
	log.Debug().Dur("elapsed", r.now().Sub(start)).Msg("job done")
}
