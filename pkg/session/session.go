package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"
)

// Session is the auth state kept on a user record.
type Session struct {
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	LoginCount   int       `json:"login_count"`
}

// Policy controls session lifetime.
type Policy struct {
	TTL           time.Duration `env:"SESSION_TTL" envDefault:"240h"`
	RefreshWindow time.Duration `env:"SESSION_REFRESH_WINDOW" envDefault:"48h"`
}

// DefaultPolicy returns a 10 day TTL refreshed during the last 2 days.
func DefaultPolicy() Policy {
	return Policy{
		TTL:           10 * 24 * time.Hour,
		RefreshWindow: 2 * 24 * time.Hour,
	}
}

// Issue starts a new session, replacing any previous token.
func Issue(prev Session, now time.Time, p Policy) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return prev, err
	}
	return Session{
		Token:        token,
		ExpiresAt:    now.Add(p.TTL),
		LastActiveAt: now,
		LoginCount:   prev.LoginCount + 1,
	}, nil
}

// Verify checks token against s at now. Within the refresh window the
// returned session has its expiry extended and refreshed is true; otherwise
// s is returned unchanged.
func Verify(s Session, token string, now time.Time, p Policy) (_ Session, refreshed bool, _ error) {
	if s.Token == "" || token == "" || subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return s, false, ErrInvalidToken
	}
	if IsExpired(s, now) {
		return s, false, ErrSessionExpired
	}

	if s.ExpiresAt.Sub(now) <= p.RefreshWindow {
		s.ExpiresAt = now.Add(p.TTL)
		s.LastActiveAt = now
		return s, true, nil
	}
	return s, false, nil
}

// Revoke ends the session immediately.
func Revoke(s Session, now time.Time) Session {
	s.ExpiresAt = now
	return s
}

// IsExpired reports whether s is no longer valid at now.
func IsExpired(s Session, now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewToken returns a 256-bit random URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
