package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is a verified webhook whose processing failed.
type DeadLetter struct {
	ID              uuid.UUID  `json:"id"`
	EventType       string     `json:"event_type"`
	ExternalID      string     `json:"external_id,omitempty"`
	ProviderEventID string     `json:"provider_event_id,omitempty"`
	Payload         []byte     `json:"payload"`
	Error           string     `json:"error"`
	ReceivedAt      time.Time  `json:"received_at"`
	RetryCount      int        `json:"retry_count"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// DeadLetterQueue durably stores failed webhooks until they are replayed.
type DeadLetterQueue interface {
	// Push stores dl. A pending entry with the same ProviderEventID and
	// ExternalID absorbs the push instead: RetryCount is bumped and Error,
	// Payload and LastAttemptAt are refreshed.
	Push(ctx context.Context, dl DeadLetter) error
	// Pending returns unresolved entries, oldest first.
	Pending(ctx context.Context, limit int) ([]DeadLetter, error)
	MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records another failed replay and bumps RetryCount.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

// MemoryDeadLetterQueue keeps dead letters in process memory.
type MemoryDeadLetterQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]DeadLetter
}

// NewMemoryDeadLetterQueue creates an empty queue.
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{entries: make(map[uuid.UUID]DeadLetter)}
}

func (q *MemoryDeadLetterQueue) Push(_ context.Context, dl DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	dl.Payload = append([]byte(nil), dl.Payload...)

	q.mu.Lock()
	defer q.mu.Unlock()
	if dl.ProviderEventID != "" {
		for id, existing := range q.entries {
			if existing.ResolvedAt != nil ||
				existing.ProviderEventID != dl.ProviderEventID ||
				existing.ExternalID != dl.ExternalID {
				continue
			}
			at := dl.ReceivedAt
			existing.RetryCount++
			existing.Error = dl.Error
			existing.Payload = dl.Payload
			existing.LastAttemptAt = &at
			q.entries[id] = existing
			return nil
		}
	}
	q.entries[dl.ID] = dl
	return nil
}

func (q *MemoryDeadLetterQueue) Pending(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, 0)
	for _, dl := range q.entries {
		if dl.ResolvedAt == nil {
			out = append(out, dl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryDeadLetterQueue) MarkResolved(_ context.Context, id uuid.UUID, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dl, ok := q.entries[id]
	if !ok {
		return ErrDeadLetterNotFound
	}
	dl.ResolvedAt = &at
	dl.LastAttemptAt = &at
	q.entries[id] = dl
	return nil
}

func (q *MemoryDeadLetterQueue) MarkFailed(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dl, ok := q.entries[id]
	if !ok {
		return ErrDeadLetterNotFound
	}
	dl.RetryCount++
	dl.Error = reason
	dl.LastAttemptAt = &at
	q.entries[id] = dl
	return nil
}
