package subscription

import (
	"log/slog"

	"github.com/dmitrymomot/subkit/pkg/clock"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithClock sets the time source. Defaults to the UTC system clock.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithConfig overrides lifecycle timings.
func WithConfig(cfg Config) ServiceOption {
	return func(s *service) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}
