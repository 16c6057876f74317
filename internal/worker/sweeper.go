// Package worker runs the background jobs of the billing engine: periodic
// sweeps that enforce time-based transitions nobody else triggers, and event
// consumers that react to domain events on the bus.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one sweep. Run returns how many records it changed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs its jobs every interval until the context ends.
type Sweeper struct {
	jobs     []Job
	interval time.Duration
	log      zerolog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval defaults to a minute.
func NewSweeper(interval time.Duration, logger zerolog.Logger, jobs ...Job) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		jobs:     jobs,
		interval: interval,
		log:      logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on every tick. It returns nil when
// ctx is cancelled; job failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Int("jobs", len(s.jobs)).Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once and returns the changed counts by job name.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(s.jobs))
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		n, err := j.Run(ctx)
		counts[j.Name] = n
		if err != nil {
			s.log.Error().Err(err).Str("job", j.Name).Msg("sweep failed")
			continue
		}
		if n > 0 {
			s.log.Info().Str("job", j.Name).Int("changed", n).Dur("took", time.Since(start)).Msg("sweep done")
		}
	}
	return counts
}
