// Package resilience provides the failure-handling primitives used around
// outbound calls to external services: a circuit breaker, backoff strategies
// and a retry loop that understands permanent failures.
//
// # Circuit breaker
//
// CircuitBreaker is CLOSED until FailureThreshold consecutive failures are
// recorded, then OPEN for RecoveryTimeout. The first Allow after the timeout
// moves it to HALF_OPEN and lets the call through; SuccessThreshold successes
// close it again while any failure reopens it.
//
//	cb := resilience.NewCircuitBreaker(
//	    resilience.WithFailureThreshold(5),
//	    resilience.WithRecoveryTimeout(60*time.Second),
//	)
//	if !cb.Allow() {
//	    return resilience.ErrCircuitOpen
//	}
//
// # Retry
//
// Retry runs an operation up to MaxAttempts times, sleeping according to the
// Backoff between attempts. Errors wrapped with Permanent, or a *StatusError
// carrying a 4xx status other than 408, 425 and 429, stop the loop at once.
//
//	err := resilience.Retry(ctx, resilience.Policy{
//	    MaxAttempts: 3,
//	    Backoff:     resilience.ExponentialBackoff{InitialInterval: 2 * time.Second, Multiplier: 2},
//	}, func(ctx context.Context) error {
//	    return call(ctx)
//	})
package resilience
