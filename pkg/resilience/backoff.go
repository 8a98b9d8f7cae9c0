package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy calculates the delay before a retry.
// Attempt starts at 1 for the first retry.
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically with optional jitter.
// Zero jitter gives a deterministic 2s, 4s, 8s sequence for a 2s base.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval).
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = 2 * time.Second
	}

	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = time.Minute
	}

	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}

	return time.Duration(interval)
}

// DefaultBackoff returns the provider-call schedule: 2s, 4s, 8s, capped at one minute.
func DefaultBackoff() BackoffStrategy {
	return ExponentialBackoff{
		InitialInterval: 2 * time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
}
