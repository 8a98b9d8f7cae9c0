package resilience

import "time"

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit.
func WithSuccessThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.successThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the circuit stays open.
func WithRecoveryTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.recoveryTimeout = d
		}
	}
}

// WithNow replaces the time source, for tests.
func WithNow(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHook registers a callback invoked on every state change.
// It runs with the breaker lock held and must not call back into the breaker.
func WithStateChangeHook(fn func(from, to CircuitState)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}
