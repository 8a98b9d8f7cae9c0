package scheduler

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/subkit/pkg/clock"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often Start looks for due jobs.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the time source used to decide which jobs are due.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
