package session

import "errors"

var (
	// ErrInvalidToken indicates the presented token does not match the session.
	ErrInvalidToken = errors.New("session.invalid_token")

	// ErrSessionExpired indicates the session has expired or was revoked.
	ErrSessionExpired = errors.New("session.expired")

	// ErrTokenGeneration indicates token generation failed.
	ErrTokenGeneration = errors.New("session.token_generation_failed")
)
