package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/subkit/pkg/clock"
)

func TestSystem(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	now := clock.System().Now()
	after := time.Now().UTC()

	assert.Equal(t, time.UTC, now.Location())
	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}

func TestMock(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("frozen until moved", func(t *testing.T) {
		t.Parallel()

		c := clock.NewMock(t0)
		assert.Equal(t, t0, c.Now())
		assert.Equal(t, t0, c.Now())
	})

	t.Run("advance", func(t *testing.T) {
		t.Parallel()

		c := clock.NewMock(t0)
		got := c.Advance(5 * 24 * time.Hour)
		assert.Equal(t, t0.AddDate(0, 0, 5), got)
		assert.Equal(t, got, c.Now())
	})

	t.Run("set normalises to UTC", func(t *testing.T) {
		t.Parallel()

		c := clock.NewMock(t0)
		loc := time.FixedZone("UTC+3", 3*60*60)
		c.Set(time.Date(2025, 1, 2, 3, 0, 0, 0, loc))
		assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), c.Now())
	})

	t.Run("concurrent advance", func(t *testing.T) {
		t.Parallel()

		c := clock.NewMock(t0)
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Advance(time.Second)
			}()
		}
		wg.Wait()
		assert.Equal(t, t0.Add(100*time.Second), c.Now())
	})
}

func TestFunc(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var c clock.Clock = clock.Func(func() time.Time { return t0 })
	assert.Equal(t, t0, c.Now())
}
