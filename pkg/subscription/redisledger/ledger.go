// Package redisledger keeps processed webhook dedupe keys in Redis so that
// redeliveries are acknowledged without touching the user store.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

const (
	defaultPrefix = "subkit:webhook:processed:"
	defaultTTL    = 7 * 24 * time.Hour
)

// Client is the subset of go-redis used by the ledger.
type Client interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Ledger is a subscription.EventLedger backed by Redis keys with a TTL.
type Ledger struct {
	client Client
	prefix string
	ttl    time.Duration
}

var _ subscription.EventLedger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPrefix namespaces keys.
func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// New creates a ledger on client.
func New(client Client, opts ...Option) *Ledger {
	if client == nil {
		panic("redisledger: client is required")
	}
	l := &Ledger{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) Mark(ctx context.Context, key string) error {
	if err := l.client.Set(ctx, l.prefix+key, 1, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
