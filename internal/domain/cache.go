package domain

import (
	"context"
	"math/big"
	"time"
)

// SharePriceCache provides fast access to the latest treasury share price.
type SharePriceCache interface {
	SetSharePrice(ctx context.Context, price *big.Int, ts time.Time) error
	GetSharePrice(ctx context.Context) (*big.Int, time.Time, error)
}

// LockManager provides distributed locking. Used to guard the single-writer
// apply loop when multiple ledgerd replicas share a database.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter limits request rates per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for emitted events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
