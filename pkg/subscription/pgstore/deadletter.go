package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// DeadLetterQueue stores failed webhooks in the dead_letters table.
type DeadLetterQueue struct {
	db DB
}

var _ subscription.DeadLetterQueue = (*DeadLetterQueue)(nil)

// NewDeadLetterQueue creates a queue on db.
func NewDeadLetterQueue(db DB) *DeadLetterQueue {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &DeadLetterQueue{db: db}
}

const pushDeadLetter = `
INSERT INTO dead_letters (id, event_type, external_id, provider_event_id, payload, error, received_at, retry_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider_event_id, external_id) WHERE resolved_at IS NULL AND provider_event_id <> ''
DO UPDATE SET
	retry_count = dead_letters.retry_count + 1,
	error = EXCLUDED.error,
	payload = EXCLUDED.payload,
	last_attempt_at = EXCLUDED.received_at`

// Push folds a redelivery of a still-pending event into the existing row.
func (q *DeadLetterQueue) Push(ctx context.Context, dl subscription.DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx, pushDeadLetter,
		dl.ID, dl.EventType, dl.ExternalID, dl.ProviderEventID, dl.Payload, dl.Error, dl.ReceivedAt, dl.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (q *DeadLetterQueue) Pending(ctx context.Context, limit int) ([]subscription.DeadLetter, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, event_type, external_id, provider_event_id, payload, error, received_at, retry_count, last_attempt_at, resolved_at
		FROM dead_letters
		WHERE resolved_at IS NULL
		ORDER BY received_at
		LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscription.DeadLetter, error) {
		var dl subscription.DeadLetter
		err := row.Scan(&dl.ID, &dl.EventType, &dl.ExternalID, &dl.ProviderEventID, &dl.Payload,
			&dl.Error, &dl.ReceivedAt, &dl.RetryCount, &dl.LastAttemptAt, &dl.ResolvedAt)
		return dl, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return out, nil
}

func (q *DeadLetterQueue) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE dead_letters SET resolved_at = $2, last_attempt_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrDeadLetterNotFound
	}
	return nil
}

func (q *DeadLetterQueue) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE dead_letters SET retry_count = retry_count + 1, error = $2, last_attempt_at = $3
		WHERE id = $1`, id, reason, at)
	if err != nil {
		return fmt.Errorf("fail dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrDeadLetterNotFound
	}
	return nil
}
