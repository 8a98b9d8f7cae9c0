package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/scheduler"
	"github.com/dmitrymomot/subkit/pkg/session"
)

const defaultMaintenanceBatch = 500

// Maintenance holds the periodic cleanup jobs. Every job is idempotent.
type Maintenance struct {
	store      Store
	reconciler *Reconciler
	cfg        Config
	clock      clock.Clock
	logger     *slog.Logger
	batch      int
}

// MaintenanceOption configures Maintenance.
type MaintenanceOption func(*Maintenance)

// WithMaintenanceClock sets the time source.
func WithMaintenanceClock(c clock.Clock) MaintenanceOption {
	return func(m *Maintenance) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMaintenanceLogger sets the logger.
func WithMaintenanceLogger(l *slog.Logger) MaintenanceOption {
	return func(m *Maintenance) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithReplayReconciler enables dead-letter auto replay when the config allows it.
func WithReplayReconciler(r *Reconciler) MaintenanceOption {
	return func(m *Maintenance) {
		m.reconciler = r
	}
}

// WithBatchSize limits how many records one job run touches.
func WithBatchSize(n int) MaintenanceOption {
	return func(m *Maintenance) {
		if n > 0 {
			m.batch = n
		}
	}
}

// NewMaintenance creates the maintenance jobs. Panics if store is nil.
func NewMaintenance(store Store, cfg Config, opts ...MaintenanceOption) *Maintenance {
	if store == nil {
		panic("subscription: Store is required")
	}
	m := &Maintenance{
		store:  store,
		cfg:    cfg,
		clock:  clock.System(),
		logger: logger.Discard(),
		batch:  defaultMaintenanceBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("maintenance"))
	return m
}

// Register adds the jobs to s.
func (m *Maintenance) Register(s *scheduler.Scheduler) error {
	jobs := []struct {
		name     string
		schedule scheduler.Schedule
		run      func(ctx context.Context) (int, error)
	}{
		{"prune_usage", scheduler.DailyAt(3, 0), m.PruneUsage},
		{"prune_sessions", scheduler.Every(time.Hour), m.PruneSessions},
		{"cleanup_ended_subscriptions", scheduler.DailyAt(4, 0), m.CleanupEnded},
		{"replay_dead_letters", scheduler.Every(15 * time.Minute), m.ReplayDeadLetters},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.schedule, m.job(j.name, j.run)); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

func (m *Maintenance) job(name string, run func(ctx context.Context) (int, error)) scheduler.JobFunc {
	return func(ctx context.Context) error {
		n, err := run(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			m.logger.InfoContext(ctx, "maintenance job finished", logger.Job(name), slog.Int("records", n))
		}
		return nil
	}
}

// PruneUsage drops usage buckets older than the retention window.
func (m *Maintenance) PruneUsage(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().UTC().Add(-m.cfg.UsageRetention).Format(time.DateOnly)
	ids, err := m.store.UsersWithUsageBefore(ctx, cutoff, m.batch)
	if err != nil {
		return 0, fmt.Errorf("find usage to prune: %w", err)
	}
	return m.each(ctx, ids, func(u *User) error {
		before := len(u.Usage.DailyBuckets)
		u.Usage.DailyBuckets = pruneBuckets(u.Usage.DailyBuckets, cutoff)
		if len(u.Usage.DailyBuckets) == before {
			return ErrNoChange
		}
		return nil
	})
}

// PruneSessions clears expired session tokens.
func (m *Maintenance) PruneSessions(ctx context.Context) (int, error) {
	now := m.clock.Now().UTC()
	ids, err := m.store.UsersWithExpiredSessions(ctx, now, m.batch)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}
	return m.each(ctx, ids, func(u *User) error {
		if u.Session.Token == "" || !session.IsExpired(u.Session, now) {
			return ErrNoChange
		}
		u.Session.Token = ""
		return nil
	})
}

// CleanupEnded drops provider bindings of subscriptions that ended longer
// than CompletedCleanupAfter ago. Disabled when the setting is zero.
func (m *Maintenance) CleanupEnded(ctx context.Context) (int, error) {
	if m.cfg.CompletedCleanupAfter <= 0 {
		return 0, nil
	}
	before := m.clock.Now().UTC().Add(-m.cfg.CompletedCleanupAfter)
	ids, err := m.store.UsersEndedBefore(ctx, before, m.batch)
	if err != nil {
		return 0, fmt.Errorf("find ended subscriptions: %w", err)
	}
	return m.each(ctx, ids, func(u *User) error {
		s := &u.Subscription
		if s.ExternalID == "" || s.EndedAt == nil || !s.EndedAt.Before(before) ||
			(s.Status != StatusExpired && s.Status != StatusCompleted) {
			return ErrNoChange
		}
		s.ExternalID = ""
		s.PaymentLink = ""
		s.PaymentLinkCreatedAt = nil
		s.ProcessedEvents = nil
		return nil
	})
}

// ReplayDeadLetters replays pending dead letters when auto replay is enabled.
func (m *Maintenance) ReplayDeadLetters(ctx context.Context) (int, error) {
	if !m.cfg.DeadLetterAutoReplay || m.reconciler == nil {
		return 0, nil
	}
	report, err := m.reconciler.Replay(ctx, m.batch)
	return report.Resolved, err
}

// each applies fn to every id and counts the records it changed. Records
// removed in the meantime are skipped.
func (m *Maintenance) each(ctx context.Context, ids []uuid.UUID, fn func(u *User) error) (int, error) {
	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		wrote := false
		_, err := m.store.Update(ctx, id, func(u *User) error {
			if err := fn(u); err != nil {
				return err
			}
			wrote = true
			return nil
		})
		switch {
		case err == nil:
			if wrote {
				changed++
			}
		case errors.Is(err, ErrUserNotFound):
		default:
			return changed, err
		}
	}
	return changed, nil
}
