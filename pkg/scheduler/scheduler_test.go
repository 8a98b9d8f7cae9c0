package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/scheduler"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSchedules(t *testing.T) {
	t.Parallel()

	t.Run("every", func(t *testing.T) {
		t.Parallel()
		s := scheduler.Every(15 * time.Minute)
		assert.Equal(t, t0.Add(15*time.Minute), s.Next(t0))
		assert.Equal(t, "every 15m0s", s.String())
	})

	t.Run("daily later today", func(t *testing.T) {
		t.Parallel()
		s := scheduler.DailyAt(3, 30)
		assert.Equal(t, time.Date(2025, 1, 1, 3, 30, 0, 0, time.UTC), s.Next(t0))
		assert.Equal(t, "daily at 03:30", s.String())
	})

	t.Run("daily rolls over", func(t *testing.T) {
		t.Parallel()
		s := scheduler.DailyAt(3, 30)
		from := time.Date(2025, 1, 1, 3, 30, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 1, 2, 3, 30, 0, 0, time.UTC), s.Next(from))
	})
}

func TestScheduler_Add(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.WithClock(clock.NewMock(t0)))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("a", scheduler.Every(time.Minute), noop))
	assert.ErrorIs(t, s.Add("a", scheduler.Every(time.Minute), noop), scheduler.ErrJobAlreadyRegistered)
	assert.ErrorIs(t, s.Add("", scheduler.Every(time.Minute), noop), scheduler.ErrInvalidJob)
	assert.ErrorIs(t, s.Add("b", nil, noop), scheduler.ErrInvalidJob)
	assert.ErrorIs(t, s.Add("c", scheduler.Every(time.Minute), nil), scheduler.ErrInvalidJob)
	assert.Equal(t, []string{"a"}, s.Jobs())

	s.Remove("a")
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunDue(t *testing.T) {
	t.Parallel()

	c := clock.NewMock(t0)
	s := scheduler.New(scheduler.WithClock(c))

	var hourly, daily atomic.Int32
	require.NoError(t, s.Add("hourly", scheduler.Every(time.Hour), func(context.Context) error {
		hourly.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("daily", scheduler.DailyAt(3, 0), func(context.Context) error {
		daily.Add(1)
		return errors.New("job failed")
	}))

	ctx := context.Background()
	assert.Equal(t, 0, s.RunDue(ctx), "nothing due at registration time")

	c.Advance(time.Hour)
	assert.Equal(t, 1, s.RunDue(ctx))
	assert.Equal(t, int32(1), hourly.Load())

	c.Advance(2 * time.Hour)
	assert.Equal(t, 2, s.RunDue(ctx))
	assert.Equal(t, int32(2), hourly.Load())
	assert.Equal(t, int32(1), daily.Load())

	assert.Equal(t, 0, s.RunDue(ctx), "failed jobs are rescheduled too")
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.WithClock(clock.NewMock(t0)))
	var runs atomic.Int32
	require.NoError(t, s.Add("job", scheduler.DailyAt(0, 0), func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "job"))
	assert.Equal(t, int32(1), runs.Load())
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), scheduler.ErrInvalidJob)
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("requires jobs", func(t *testing.T) {
		t.Parallel()
		s := scheduler.New()
		assert.ErrorIs(t, s.Start(context.Background()), scheduler.ErrNoJobs)
	})

	t.Run("stops with context", func(t *testing.T) {
		t.Parallel()
		s := scheduler.New(scheduler.WithCheckInterval(time.Millisecond))
		require.NoError(t, s.Add("job", scheduler.Every(time.Hour), func(context.Context) error { return nil }))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
	})
}
