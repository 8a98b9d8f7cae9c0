// Package session implements bearer-token auth sessions with a sliding
// refresh window.
//
// A Session is plain data stored on the owning user record. Issue starts a
// new session with a random opaque token valid for Policy.TTL. Verify accepts
// an exact token match while now is before ExpiresAt; when fewer than
// Policy.RefreshWindow remain it extends ExpiresAt to now+TTL and reports the
// refresh so the caller can persist it and tell the client. Outside the window
// Verify does not change the session. Revoke ends the session by setting
// ExpiresAt to now.
//
//	p := session.DefaultPolicy() // 10 days, refresh in the last 2 days
//	s, err := session.Issue(prev, now, p)
//	s, refreshed, err := session.Verify(s, token, now, p)
package session
