package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
)

// JobFunc is one run of a periodic job. Jobs must be idempotent: several
// replicas may run the same job concurrently.
type JobFunc func(ctx context.Context) error

// Scheduler runs registered jobs in process when they are due.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc
	nextRun  time.Time
	running  bool
}

// New creates a scheduler checking for due jobs every 30 seconds.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		clock:    clock.System(),
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("scheduler"))
	return s
}

// Add registers a job. Its first run is one schedule step after now.
func (s *Scheduler) Add(name string, schedule Schedule, fn JobFunc) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}
	s.jobs[name] = &job{
		name:     name,
		schedule: schedule,
		fn:       fn,
		nextRun:  schedule.Next(s.clock.Now()),
	}
	s.logger.Info("registered periodic job",
		logger.Job(name),
		slog.String("schedule", schedule.String()),
	)
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDue runs every job whose next run time has passed and returns how many
// ran. A job still running from a previous check is skipped.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.running || j.nextRun.After(now) {
			continue
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].name < due[k].name })
	for _, j := range due {
		s.run(ctx, j, now)
	}
	return len(due)
}

// RunNow runs the named job immediately regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrInvalidJob
	}
	return j.fn(ctx)
}

func (s *Scheduler) run(ctx context.Context, j *job, now time.Time) {
	start := time.Now()
	err := j.fn(ctx)

	s.mu.Lock()
	j.running = false
	j.nextRun = j.schedule.Next(now)
	next := j.nextRun
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "periodic job failed",
			logger.Job(j.name),
			logger.Duration(time.Since(start)),
			logger.Error(err),
		)
		return
	}
	s.logger.DebugContext(ctx, "periodic job finished",
		logger.Job(j.name),
		logger.Duration(time.Since(start)),
		slog.Time("next_run", next),
	)
}

// Start checks for due jobs until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	if count == 0 {
		return ErrNoJobs
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}
