package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Retry.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	// Sleep defaults to a context-aware timer wait.
	Sleep SleepFunc
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts on the DefaultBackoff schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     DefaultBackoff(),
	}
}

// Retry runs fn until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is reached.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := backoff.NextInterval(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
