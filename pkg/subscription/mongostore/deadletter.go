// Package mongostore keeps the webhook dead-letter queue in MongoDB, for
// deployments that hold operational data outside the user database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// DefaultCollection holds dead letters unless overridden.
const DefaultCollection = "dead_letters"

var ErrInvalidDocument = errors.New("invalid dead letter document")

type document struct {
	ID              string     `bson:"_id"`
	EventType       string     `bson:"event_type"`
	ExternalID      string     `bson:"external_id,omitempty"`
	ProviderEventID string     `bson:"provider_event_id,omitempty"`
	Payload         []byte     `bson:"payload"`
	Error           string     `bson:"error"`
	ReceivedAt      time.Time  `bson:"received_at"`
	RetryCount      int        `bson:"retry_count"`
	LastAttemptAt   *time.Time `bson:"last_attempt_at,omitempty"`
	ResolvedAt      *time.Time `bson:"resolved_at,omitempty"`
}

func toDocument(dl subscription.DeadLetter) document {
	return document{
		ID:              dl.ID.String(),
		EventType:       dl.EventType,
		ExternalID:      dl.ExternalID,
		ProviderEventID: dl.ProviderEventID,
		Payload:         dl.Payload,
		Error:           dl.Error,
		ReceivedAt:      dl.ReceivedAt.UTC(),
		RetryCount:      dl.RetryCount,
		LastAttemptAt:   dl.LastAttemptAt,
		ResolvedAt:      dl.ResolvedAt,
	}
}

func (d document) deadLetter() (subscription.DeadLetter, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return subscription.DeadLetter{}, errors.Join(ErrInvalidDocument, err)
	}
	return subscription.DeadLetter{
		ID:              id,
		EventType:       d.EventType,
		ExternalID:      d.ExternalID,
		ProviderEventID: d.ProviderEventID,
		Payload:         d.Payload,
		Error:           d.Error,
		ReceivedAt:      d.ReceivedAt.UTC(),
		RetryCount:      d.RetryCount,
		LastAttemptAt:   utc(d.LastAttemptAt),
		ResolvedAt:      utc(d.ResolvedAt),
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// DeadLetterQueue is a subscription.DeadLetterQueue on a Mongo collection.
type DeadLetterQueue struct {
	coll *mongo.Collection
}

var _ subscription.DeadLetterQueue = (*DeadLetterQueue)(nil)

// NewDeadLetterQueue uses the DefaultCollection of db.
func NewDeadLetterQueue(db *mongo.Database) *DeadLetterQueue {
	if db == nil {
		panic("mongostore: database is required")
	}
	return &DeadLetterQueue{coll: db.Collection(DefaultCollection)}
}

// EnsureIndexes creates the index used by Pending.
func (q *DeadLetterQueue) EnsureIndexes(ctx context.Context) error {
	_, err := q.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "resolved_at", Value: 1}, {Key: "received_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create dead letter index: %w", err)
	}
	return nil
}

// Push folds a redelivery of a still-pending event into the existing document.
func (q *DeadLetterQueue) Push(ctx context.Context, dl subscription.DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.ProviderEventID != "" {
		res, err := q.coll.UpdateOne(ctx, pendingEventFilter(dl), redeliveryUpdate(dl))
		if err != nil {
			return fmt.Errorf("update dead letter: %w", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}
	}
	if _, err := q.coll.InsertOne(ctx, toDocument(dl)); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// pendingEventFilter matches the unresolved entry for dl's event. Empty
// external ids are omitted on write, so they match by absence.
func pendingEventFilter(dl subscription.DeadLetter) bson.M {
	var externalID any
	if dl.ExternalID != "" {
		externalID = dl.ExternalID
	}
	return bson.M{
		"provider_event_id": dl.ProviderEventID,
		"external_id":       externalID,
		"resolved_at":       nil,
	}
}

func redeliveryUpdate(dl subscription.DeadLetter) bson.M {
	return bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{
			"error":           dl.Error,
			"payload":         dl.Payload,
			"last_attempt_at": dl.ReceivedAt.UTC(),
		},
	}
}

func (q *DeadLetterQueue) Pending(ctx context.Context, limit int) ([]subscription.DeadLetter, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := q.coll.Find(ctx, bson.M{"resolved_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("find dead letters: %w", err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode dead letters: %w", err)
	}

	out := make([]subscription.DeadLetter, 0, len(docs))
	for _, d := range docs {
		dl, err := d.deadLetter()
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *DeadLetterQueue) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	return q.update(ctx, id, bson.M{
		"$set": bson.M{"resolved_at": at.UTC(), "last_attempt_at": at.UTC()},
	})
}

func (q *DeadLetterQueue) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return q.update(ctx, id, bson.M{
		"$set": bson.M{"error": reason, "last_attempt_at": at.UTC()},
		"$inc": bson.M{"retry_count": 1},
	})
}

func (q *DeadLetterQueue) update(ctx context.Context, id uuid.UUID, change bson.M) error {
	res, err := q.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, change)
	if err != nil {
		return fmt.Errorf("update dead letter: %w", err)
	}
	if res.MatchedCount == 0 {
		return subscription.ErrDeadLetterNotFound
	}
	return nil
}
