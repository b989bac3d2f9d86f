package domain

import (
	"context"
	"math/big"
	"time"
)

// QuoteCache holds recent oracle conversions keyed by amount and feed.
type QuoteCache interface {
	GetQuote(ctx context.Context, key string) (*big.Int, error)
	SetQuote(ctx context.Context, key string, amount *big.Int, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Lease is a held lock. Lost is closed when ownership ends before Release is
// called, because the key expired or another holder took it. Release is safe
// to call more than once.
type Lease struct {
	Lost    <-chan struct{}
	Release func()
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
