package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoChange may be returned by an Update callback to skip the write.
// Update then returns the current record and a nil error.
var ErrNoChange = errors.New("no change")

// UserStore persists user records.
// Implementations must serialize Update calls per user (row lock or version
// check) so that concurrent mutations of one record are linearizable.
type UserStore interface {
	// Create inserts a new record.
	// Returns ErrEmailTaken, ErrIdentityTaken or ErrExternalIDTaken on
	// uniqueness violations. Update reports the same errors.
	Create(ctx context.Context, u *User) error

	// Get returns a copy of the record or ErrUserNotFound.
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	// GetByIdentityExternalID finds the user linked to an identity-provider subject.
	GetByIdentityExternalID(ctx context.Context, externalID string) (*User, error)
	GetBySessionToken(ctx context.Context, token string) (*User, error)

	// Update loads the record exclusively, applies fn and persists the result
	// atomically. Nothing is written when fn returns an error.
	Update(ctx context.Context, id uuid.UUID, fn func(u *User) error) (*User, error)
}

// MaintenanceStore finds records for periodic cleanup jobs.
type MaintenanceStore interface {
	// UsersWithUsageBefore returns users holding usage buckets dated before day (YYYY-MM-DD).
	UsersWithUsageBefore(ctx context.Context, day string, limit int) ([]uuid.UUID, error)
	// UsersWithExpiredSessions returns users whose session token expired before t.
	UsersWithExpiredSessions(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	// UsersEndedBefore returns users whose subscription ended before t and
	// still hold a provider binding.
	UsersEndedBefore(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// Store combines the record and maintenance contracts.
type Store interface {
	UserStore
	MaintenanceStore
}
