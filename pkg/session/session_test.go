package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/session"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestIssue(t *testing.T) {
	t.Parallel()

	p := session.DefaultPolicy()
	s, err := session.Issue(session.Session{LoginCount: 2}, t0, p)
	require.NoError(t, err)

	assert.NotEmpty(t, s.Token)
	assert.Equal(t, t0.Add(10*24*time.Hour), s.ExpiresAt)
	assert.Equal(t, t0, s.LastActiveAt)
	assert.Equal(t, 3, s.LoginCount)

	other, err := session.Issue(s, t0, p)
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, other.Token)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	p := session.DefaultPolicy()
	issued, err := session.Issue(session.Session{}, t0, p)
	require.NoError(t, err)

	t.Run("wrong token", func(t *testing.T) {
		t.Parallel()

		_, _, err := session.Verify(issued, "nope", t0.Add(time.Hour), p)
		assert.ErrorIs(t, err, session.ErrInvalidToken)
	})

	t.Run("empty token never matches", func(t *testing.T) {
		t.Parallel()

		_, _, err := session.Verify(session.Session{ExpiresAt: t0.Add(time.Hour)}, "", t0, p)
		assert.ErrorIs(t, err, session.ErrInvalidToken)
	})

	t.Run("outside refresh window does not mutate", func(t *testing.T) {
		t.Parallel()

		now := t0.Add(5 * 24 * time.Hour)
		got, refreshed, err := session.Verify(issued, issued.Token, now, p)
		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Equal(t, issued, got)
	})

	t.Run("window start refreshes", func(t *testing.T) {
		t.Parallel()

		now := issued.ExpiresAt.Add(-2 * 24 * time.Hour)
		got, refreshed, err := session.Verify(issued, issued.Token, now, p)
		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, now.Add(p.TTL), got.ExpiresAt)
		assert.Equal(t, now, got.LastActiveAt)
		assert.Equal(t, issued.Token, got.Token)
	})

	t.Run("inside window refreshes", func(t *testing.T) {
		t.Parallel()

		now := issued.ExpiresAt.Add(-time.Hour)
		got, refreshed, err := session.Verify(issued, issued.Token, now, p)
		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, now.Add(p.TTL), got.ExpiresAt)
	})

	t.Run("expired at expiry instant", func(t *testing.T) {
		t.Parallel()

		_, _, err := session.Verify(issued, issued.Token, issued.ExpiresAt, p)
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	})
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	p := session.DefaultPolicy()
	s, err := session.Issue(session.Session{}, t0, p)
	require.NoError(t, err)

	now := t0.Add(time.Hour)
	revoked := session.Revoke(s, now)
	assert.Equal(t, now, revoked.ExpiresAt)
	assert.True(t, session.IsExpired(revoked, now))

	_, _, err = session.Verify(revoked, s.Token, now, p)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}
