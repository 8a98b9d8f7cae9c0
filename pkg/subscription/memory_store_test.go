package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredUser(t *testing.T, store *MemoryStore, email string) *User {
	t.Helper()
	u := trialUser(t0)
	u.ID = uuid.New()
	u.Identity.Email = email
	require.NoError(t, store.Create(context.Background(), u))
	return u
}

func TestMemoryStore_Lookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	u := newStoredUser(t, store, "a@example.com")

	_, err := store.Update(ctx, u.ID, func(u *User) error {
		u.Subscription.ExternalID = "sub_A"
		u.Identity.ExternalID = "google|1"
		u.Session.Token = "tok"
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetByEmail(ctx, " A@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = store.GetByExternalID(ctx, "sub_A")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = store.GetByIdentityExternalID(ctx, "google|1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = store.GetBySessionToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	twin := trialUser(t0)
	twin.ID = uuid.New()
	twin.Identity.Email = "b@example.com"
	twin.Identity.ExternalID = "google|1"
	assert.ErrorIs(t, store.Create(ctx, twin), ErrIdentityTaken)

	other := newStoredUser(t, store, "c@example.com")
	_, err = store.Update(ctx, other.ID, func(u *User) error {
		u.Identity.ExternalID = "google|1"
		return nil
	})
	assert.ErrorIs(t, err, ErrIdentityTaken)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = store.GetByExternalID(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetBySessionToken(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetByIdentityExternalID(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_Isolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	u := newStoredUser(t, store, "a@example.com")

	got, err := store.Get(ctx, u.ID)
	require.NoError(t, err)
	got.Trial.Active = false
	got.Usage.DailyBuckets = append(got.Usage.DailyBuckets, UsageBucket{Date: "2025-01-01", Count: 1})

	again, err := store.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, again.Trial.Active)
	assert.Empty(t, again.Usage.DailyBuckets)
}

func TestMemoryStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("callback error writes nothing", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		u := newStoredUser(t, store, "a@example.com")
		boom := errors.New("boom")

		_, err := store.Update(ctx, u.ID, func(u *User) error {
			u.Subscription.Status = StatusActive
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusTrial, got.Subscription.Status)
		assert.Equal(t, int64(0), got.Version)
	})

	t.Run("no change keeps version", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		u := newStoredUser(t, store, "a@example.com")

		got, err := store.Update(ctx, u.ID, func(u *User) error {
			u.Subscription.Status = StatusActive
			return ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, StatusTrial, got.Subscription.Status)
		assert.Equal(t, int64(0), got.Version)
	})

	t.Run("uniqueness", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		a := newStoredUser(t, store, "a@example.com")
		b := newStoredUser(t, store, "b@example.com")

		dup := trialUser(t0)
		dup.ID = uuid.New()
		dup.Identity.Email = "a@example.com"
		assert.ErrorIs(t, store.Create(ctx, dup), ErrEmailTaken)

		_, err := store.Update(ctx, a.ID, func(u *User) error {
			u.Subscription.ExternalID = "sub_A"
			return nil
		})
		require.NoError(t, err)
		_, err = store.Update(ctx, b.ID, func(u *User) error {
			u.Subscription.ExternalID = "sub_A"
			return nil
		})
		assert.ErrorIs(t, err, ErrExternalIDTaken)
	})

	t.Run("serializes concurrent updates", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		u := newStoredUser(t, store, "a@example.com")

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = store.Update(ctx, u.ID, func(u *User) error {
					u.Usage.TotalUses++
					return nil
				})
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(50), got.Usage.TotalUses)
		assert.Equal(t, int64(50), got.Version)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		u := newStoredUser(t, store, "a@example.com")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.Update(cctx, u.ID, func(*User) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid create", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		assert.ErrorIs(t, store.Create(ctx, &User{}), ErrInvalidUserID)
		assert.ErrorIs(t, store.Create(ctx, nil), ErrInvalidUserID)
	})
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryDeadLetterQueue()

	older := DeadLetter{ID: uuid.New(), EventType: "a", ReceivedAt: t0}
	newer := DeadLetter{ID: uuid.New(), EventType: "b", ReceivedAt: t0.Add(time.Minute)}
	require.NoError(t, q.Push(ctx, newer))
	require.NoError(t, q.Push(ctx, older))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].EventType)

	pending, err = q.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, q.MarkFailed(ctx, older.ID, "still broken", t0.Add(time.Hour)))
	require.NoError(t, q.MarkResolved(ctx, newer.ID, t0.Add(time.Hour)))

	pending, err = q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "still broken", pending[0].Error)

	assert.ErrorIs(t, q.MarkResolved(ctx, uuid.New(), t0), ErrDeadLetterNotFound)
	assert.ErrorIs(t, q.MarkFailed(ctx, uuid.New(), "", t0), ErrDeadLetterNotFound)
}

func TestMemoryDeadLetterQueue_Redelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryDeadLetterQueue()

	first := DeadLetter{EventType: "a", ExternalID: "sub_A", ProviderEventID: "evt_1", Payload: []byte("v1"), Error: "boom", ReceivedAt: t0}
	require.NoError(t, q.Push(ctx, first))

	again := first
	again.Payload = []byte("v2")
	again.Error = "still boom"
	again.ReceivedAt = t0.Add(time.Minute)
	require.NoError(t, q.Push(ctx, again))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "still boom", pending[0].Error)
	assert.Equal(t, []byte("v2"), pending[0].Payload)
	assert.Equal(t, t0, pending[0].ReceivedAt)
	require.NotNil(t, pending[0].LastAttemptAt)
	assert.Equal(t, t0.Add(time.Minute), *pending[0].LastAttemptAt)
	firstID := pending[0].ID

	// A different subscription or an event without an id is its own entry.
	otherSub := first
	otherSub.ExternalID = "sub_B"
	require.NoError(t, q.Push(ctx, otherSub))
	anonymous := DeadLetter{EventType: "a", ReceivedAt: t0}
	require.NoError(t, q.Push(ctx, anonymous))
	require.NoError(t, q.Push(ctx, anonymous))

	pending, err = q.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	// Once resolved, the next failure opens a fresh entry.
	require.NoError(t, q.MarkResolved(ctx, firstID, t0.Add(time.Hour)))
	require.NoError(t, q.Push(ctx, first))
	pending, err = q.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := t0
	l := NewMemoryLedger(time.Hour, func() time.Time { return now })

	seen, err := l.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark(ctx, "k"))
	seen, err = l.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(time.Hour)
	seen, err = l.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
}
