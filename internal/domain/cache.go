package domain

import (
	"context"
	"time"
)

// MetadataCache provides fast market-metadata lookups for page rendering.
type MetadataCache interface {
	Set(ctx context.Context, ref MarketRef, meta MarketMetadata) error
	Get(ctx context.Context, ref MarketRef) (MarketMetadata, error)
	Invalidate(ctx context.Context, ref MarketRef) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between backend instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
