package resilience

import (
	"errors"
	"fmt"
)

var (
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	ErrPermanentFailure  = errors.New("permanent failure")
)

// StatusError carries an HTTP status returned by a remote service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether the status is a 4xx that will not change on retry.
func (e *StatusError) IsClientError() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	switch e.StatusCode {
	case 408, 425, 429:
		return false
	default:
		return true
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanentFailure
}

// Permanent marks err so that Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentFailure) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.IsClientError()
}

// IsCircuitOpen reports whether err was caused by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// StatusCode extracts the remote status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
