package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

type storedRow struct {
	record  []byte
	version int64
}

// fakeDB keeps rows in memory and serializes transactions the way a
// row lock taken by SELECT ... FOR UPDATE would for a single row.
type fakeDB struct {
	txLock sync.Mutex

	mu        sync.Mutex
	rows      map[uuid.UUID]storedRow
	writeErr  error
	queries   []string
	commits   int
	rollbacks int
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[uuid.UUID]storedRow)}
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	db.txLock.Lock()
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	if db.writeErr != nil {
		return pgconn.CommandTag{}, db.writeErr
	}
	if strings.Contains(sql, "INSERT INTO users") {
		db.rows[args[0].(uuid.UUID)] = storedRow{record: args[8].([]byte), version: args[9].(int64)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	row, ok := db.rows[args[0].(uuid.UUID)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{row: row}
}

func (db *fakeDB) executed(fragment string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, q := range db.queries {
		if strings.Contains(q, fragment) {
			n++
		}
	}
	return n
}

type fakeTx struct {
	pgx.Tx
	db   *fakeDB
	done bool
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.db.QueryRow(ctx, sql, args...)
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	if db.writeErr != nil {
		return pgconn.CommandTag{}, db.writeErr
	}
	if !strings.Contains(sql, "UPDATE users SET") {
		return pgconn.CommandTag{}, errors.New("unexpected statement")
	}
	db.rows[args[0].(uuid.UUID)] = storedRow{record: args[8].([]byte), version: args[9].(int64)}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.finish(func() { tx.db.commits++ })
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.finish(func() { tx.db.rollbacks++ })
	return nil
}

func (tx *fakeTx) finish(count func()) {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.mu.Lock()
	count()
	tx.db.mu.Unlock()
	tx.db.txLock.Unlock()
}

type fakeRow struct {
	row storedRow
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = append([]byte(nil), r.row.record...)
	*dest[1].(*int64) = r.row.version
	return nil
}

func seedUser(t *testing.T, db *fakeDB) *subscription.User {
	t.Helper()
	u := &subscription.User{
		ID:       uuid.New(),
		Identity: subscription.Identity{ExternalID: "idp-1", Email: "a@example.com"},
	}
	u.Subscription.Status = subscription.StatusNone
	require.NoError(t, New(db).Create(context.Background(), u))
	return u
}

func TestStore_Create(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	u := seedUser(t, db)

	got, err := New(db).Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "idp-1", got.Identity.ExternalID)

	_, err = New(db).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)

	assert.ErrorIs(t, New(db).Create(context.Background(), &subscription.User{}), subscription.ErrInvalidUserID)
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	t.Run("writes the next version inside the lock", func(t *testing.T) {
		t.Parallel()

		db := newFakeDB()
		u := seedUser(t, db)

		updated, err := New(db).Update(context.Background(), u.ID, func(u *subscription.User) error {
			u.Identity.Name = "Ana"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.Version)
		assert.Equal(t, "Ana", updated.Identity.Name)
		assert.Equal(t, 1, db.executed("FOR UPDATE"))
		assert.Equal(t, 1, db.executed("UPDATE users SET"))
		assert.Equal(t, 1, db.commits)

		var stored subscription.User
		require.NoError(t, json.Unmarshal(db.rows[u.ID].record, &stored))
		assert.Equal(t, "Ana", stored.Identity.Name)
		assert.Equal(t, int64(1), db.rows[u.ID].version)
	})

	t.Run("no change skips the write", func(t *testing.T) {
		t.Parallel()

		db := newFakeDB()
		u := seedUser(t, db)

		got, err := New(db).Update(context.Background(), u.ID, func(u *subscription.User) error {
			u.Identity.Name = "discarded"
			return subscription.ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Version)
		assert.Empty(t, got.Identity.Name)
		assert.Zero(t, db.executed("UPDATE users SET"))
		assert.Equal(t, 1, db.commits)
		assert.Zero(t, db.rollbacks)
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		t.Parallel()

		db := newFakeDB()
		u := seedUser(t, db)
		boom := errors.New("boom")

		_, err := New(db).Update(context.Background(), u.ID, func(*subscription.User) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, db.executed("UPDATE users SET"))
		assert.Equal(t, 1, db.rollbacks)
	})

	t.Run("missing user", func(t *testing.T) {
		t.Parallel()

		db := newFakeDB()
		_, err := New(db).Update(context.Background(), uuid.New(), func(*subscription.User) error { return nil })
		assert.ErrorIs(t, err, subscription.ErrUserNotFound)
		assert.Equal(t, 1, db.rollbacks)
	})

	t.Run("unique violations map to domain errors", func(t *testing.T) {
		t.Parallel()

		cases := map[string]error{
			constraintEmail:          subscription.ErrEmailTaken,
			constraintIdentityID:     subscription.ErrIdentityTaken,
			constraintSubscriptionID: subscription.ErrExternalIDTaken,
		}
		for constraint, want := range cases {
			db := newFakeDB()
			u := seedUser(t, db)
			db.writeErr = &pgconn.PgError{Code: "23505", ConstraintName: constraint}

			_, err := New(db).Update(context.Background(), u.ID, func(u *subscription.User) error {
				u.Identity.Email = "taken@example.com"
				return nil
			})
			assert.ErrorIs(t, err, want, constraint)
			assert.Equal(t, 1, db.rollbacks, constraint)
			assert.Equal(t, int64(0), db.rows[u.ID].version, constraint)
		}
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		t.Parallel()

		db := newFakeDB()
		u := seedUser(t, db)
		store := New(db)

		const workers = 16
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(context.Background(), u.ID, func(u *subscription.User) error {
					u.Session.LoginCount++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), got.Version)
		assert.Equal(t, workers, got.Session.LoginCount)
	})
}

func TestStore_CreateConflicts(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	db.writeErr = &pgconn.PgError{Code: "23505", ConstraintName: constraintIdentityID}

	err := New(db).Create(context.Background(), &subscription.User{ID: uuid.New()})
	assert.ErrorIs(t, err, subscription.ErrIdentityTaken)
	assert.Equal(t, subscription.KindConflict, subscription.KindOf(err))
}
