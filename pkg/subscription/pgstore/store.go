package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies the embedded migrations, or the directory in
// cfg.MigrationsPath when it is set.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log pg.MigrationLogger) error {
	var src fs.FS
	if cfg.MigrationsPath == "" {
		src = Migrations()
	}
	return pg.Migrate(ctx, pool, cfg, src, log)
}

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	pg.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a Postgres-backed subscription.Store. The full record lives in
// a jsonb column; lookup and maintenance keys are denormalized into columns
// on every write.
type Store struct {
	db DB
}

var _ subscription.Store = (*Store)(nil)

// New creates a store on db.
func New(db DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

const (
	constraintEmail          = "users_email_key"
	constraintIdentityID     = "users_identity_external_id_key"
	constraintSubscriptionID = "users_subscription_id_key"
)

const insertUser = `
INSERT INTO users (id, email, subscription_id, session_token, session_expires_at, status, ended_at, oldest_usage_day, record, version, created_at, updated_at, identity_external_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12)`

func (s *Store) Create(ctx context.Context, u *subscription.User) error {
	if u == nil || u.ID == uuid.Nil {
		return subscription.ErrInvalidUserID
	}
	cols, err := columnsOf(u)
	if err != nil {
		return err
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, insertUser,
		u.ID, cols.email, cols.subscriptionID, cols.sessionToken, cols.sessionExpiresAt,
		cols.status, cols.endedAt, cols.oldestUsageDay, cols.record, u.Version, created,
		cols.identityID,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*subscription.User, error) {
	return s.getOne(ctx, `SELECT record, version FROM users WHERE id = $1`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*subscription.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT record, version FROM users WHERE email = $1`, email)
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*subscription.User, error) {
	if externalID == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT record, version FROM users WHERE subscription_id = $1`, externalID)
}

func (s *Store) GetByIdentityExternalID(ctx context.Context, externalID string) (*subscription.User, error) {
	if externalID == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT record, version FROM users WHERE identity_external_id = $1`, externalID)
}

func (s *Store) GetBySessionToken(ctx context.Context, token string) (*subscription.User, error) {
	if token == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT record, version FROM users WHERE session_token = $1`, token)
}

const updateUser = `
UPDATE users SET
	email = $2,
	subscription_id = $3,
	session_token = $4,
	session_expires_at = $5,
	status = $6,
	ended_at = $7,
	oldest_usage_day = $8,
	record = $9,
	version = $10,
	identity_external_id = $11,
	updated_at = now()
WHERE id = $1`

// Update locks the row with SELECT ... FOR UPDATE for the whole callback.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(u *subscription.User) error) (*subscription.User, error) {
	var out *subscription.User
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx, `SELECT record, version FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, subscription.ErrNoChange) {
				out = current
				return nil
			}
			return err
		}
		next.ID = current.ID
		next.Version = current.Version + 1

		cols, err := columnsOf(next)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateUser,
			next.ID, cols.email, cols.subscriptionID, cols.sessionToken, cols.sessionExpiresAt,
			cols.status, cols.endedAt, cols.oldestUsageDay, cols.record, next.Version,
			cols.identityID,
		); err != nil {
			return mapWriteError(err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UsersWithUsageBefore(ctx context.Context, day string, limit int) ([]uuid.UUID, error) {
	return s.ids(ctx, `SELECT id FROM users WHERE oldest_usage_day <> '' AND oldest_usage_day < $1 ORDER BY id LIMIT $2`, day, limit)
}

func (s *Store) UsersWithExpiredSessions(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return s.ids(ctx, `SELECT id FROM users WHERE session_token <> '' AND session_expires_at < $1 ORDER BY id LIMIT $2`, before, limit)
}

func (s *Store) UsersEndedBefore(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return s.ids(ctx, `SELECT id FROM users
		WHERE subscription_id <> '' AND status IN ($1, $2) AND ended_at < $3
		ORDER BY id LIMIT $4`,
		string(subscription.StatusExpired), string(subscription.StatusCompleted), before, limit)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*subscription.User, error) {
	return scanUser(s.db.QueryRow(ctx, query, arg))
}

func (s *Store) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	if limit, ok := args[len(args)-1].(int); ok && limit <= 0 {
		args[len(args)-1] = nil // LIMIT NULL means no limit
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan user ids: %w", err)
	}
	return ids, nil
}

func scanUser(row pgx.Row) (*subscription.User, error) {
	var (
		raw     []byte
		version int64
	)
	if err := row.Scan(&raw, &version); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	var u subscription.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user record: %w", err)
	}
	u.Version = version
	return &u, nil
}

func mapWriteError(err error) error {
	if pg.IsDuplicateKeyError(err) {
		switch pg.ConstraintName(err) {
		case constraintEmail:
			return subscription.ErrEmailTaken
		case constraintIdentityID:
			return subscription.ErrIdentityTaken
		case constraintSubscriptionID:
			return subscription.ErrExternalIDTaken
		}
	}
	return fmt.Errorf("write user: %w", err)
}
