package domain

import (
	"context"
	"time"
)

// RateLimiter provides keyed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Extend pushes the expiry out by ttl. It returns ErrLockLost if the
	// lock expired or was taken by someone else in the meantime.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Deduper remembers keys for a while. Seen reports whether key was already
// marked within ttl, and marks it if not.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
