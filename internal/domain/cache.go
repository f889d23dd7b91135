package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing lookups on the read path.
type ListingCache interface {
	Set(ctx context.Context, l Listing) error
	Get(ctx context.Context, assetID string) (Listing, error)
	Invalidate(ctx context.Context, assetID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Mutating marketplace operations
// hold a per-asset (or per-credit-account) lock for their full duration,
// including any outbound transfer, so a re-entrant or concurrent invocation
// never observes partially applied state.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for marketplace events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
