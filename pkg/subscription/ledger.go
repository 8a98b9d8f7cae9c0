package subscription

import (
	"context"
	"sync"
	"time"
)

// EventLedger is a fast-path record of processed webhook dedupe keys.
// The processed-events list on the user record stays authoritative; a
// ledger only saves the store round trip for obvious redeliveries.
type EventLedger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemoryLedger is an EventLedger with per-key expiry.
type MemoryLedger struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

// NewMemoryLedger creates a ledger that forgets keys after ttl.
func NewMemoryLedger(ttl time.Duration, now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{ttl: ttl, now: now, keys: make(map[string]time.Time)}
}

func (l *MemoryLedger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.keys[key]
	if !ok {
		return false, nil
	}
	if !l.now().Before(exp) {
		delete(l.keys, key)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Mark(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.keys {
		if !now.Before(exp) {
			delete(l.keys, k)
		}
	}
	l.keys[key] = now.Add(l.ttl)
	return nil
}
