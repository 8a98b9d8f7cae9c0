package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets requests through to probe for recovery.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing dependency for a while. Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
	onStateChange    func(from, to CircuitState)

	state        CircuitState
	failures     int
	openedAt     time.Time
	successCount int
}

// NewCircuitBreaker creates a breaker that opens after 5 consecutive
// failures, stays open for 60s and closes on the first half-open success,
// unless overridden by options.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: 5,
		successThreshold: 1,
		recoveryTimeout:  60 * time.Second,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed. An open breaker whose recovery
// timeout has elapsed moves to half-open and allows the call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !cb.now().Before(cb.openedAt.Add(cb.recoveryTimeout)) {
			cb.transition(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.failures = 0
			cb.successCount = 0
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.failures = cb.failureThreshold
		cb.successCount = 0
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// State returns the state Allow would observe right now.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.recoveryTimeout)) {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successCount = 0
	cb.openedAt = time.Time{}
	cb.transition(StateClosed)
}

// CircuitStats provides visibility into breaker state for monitoring.
type CircuitStats struct {
	State        string
	Failures     int
	SuccessCount int
	OpenedAt     time.Time
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitStats{
		State:        cb.state.String(),
		Failures:     cb.failures,
		SuccessCount: cb.successCount,
		OpenedAt:     cb.openedAt,
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
