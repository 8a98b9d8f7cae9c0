package subscription

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uuid.UUID]*User)}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	if u == nil || u.ID == uuid.Nil {
		return ErrInvalidUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnique(u); err != nil {
		return err
	}
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return m.find(func(u *User) bool { return u.Identity.Email == email })
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*User, error) {
	if externalID == "" {
		return nil, ErrUserNotFound
	}
	return m.find(func(u *User) bool { return u.Subscription.ExternalID == externalID })
}

func (m *MemoryStore) GetByIdentityExternalID(_ context.Context, externalID string) (*User, error) {
	if externalID == "" {
		return nil, ErrUserNotFound
	}
	return m.find(func(u *User) bool { return u.Identity.ExternalID == externalID })
}

func (m *MemoryStore) GetBySessionToken(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	return m.find(func(u *User) bool { return u.Session.Token == token })
}

func (m *MemoryStore) Update(ctx context.Context, id uuid.UUID, fn func(u *User) error) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.ID = current.ID
	if err := m.checkUnique(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	m.users[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) UsersWithUsageBefore(_ context.Context, day string, limit int) ([]uuid.UUID, error) {
	return m.collect(limit, func(u *User) bool {
		for _, b := range u.Usage.DailyBuckets {
			if b.Date < day {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) UsersWithExpiredSessions(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return m.collect(limit, func(u *User) bool {
		return u.Session.Token != "" && u.Session.ExpiresAt.Before(before)
	}), nil
}

func (m *MemoryStore) UsersEndedBefore(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return m.collect(limit, func(u *User) bool {
		s := u.Subscription
		return s.ExternalID != "" && s.EndedAt != nil && s.EndedAt.Before(before) &&
			(s.Status == StatusExpired || s.Status == StatusCompleted)
	}), nil
}

// checkUnique must be called with mu held.
func (m *MemoryStore) checkUnique(u *User) error {
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if u.Identity.Email != "" && other.Identity.Email == u.Identity.Email {
			return ErrEmailTaken
		}
		if u.Identity.ExternalID != "" && other.Identity.ExternalID == u.Identity.ExternalID {
			return ErrIdentityTaken
		}
		if u.Subscription.ExternalID != "" && other.Subscription.ExternalID == u.Subscription.ExternalID {
			return ErrExternalIDTaken
		}
	}
	return nil
}

func (m *MemoryStore) find(match func(u *User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) collect(limit int, match func(u *User) bool) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0)
	for id, u := range m.users {
		if match(u) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
