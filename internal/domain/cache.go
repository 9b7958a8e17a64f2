package domain

import (
	"context"
	"time"
)

// PriceCache holds recent oracle quotes so the classifier and the poller do
// not double-fetch the same asset within a tick.
type PriceCache interface {
	SetQuote(ctx context.Context, asset string, q Quote, ts time.Time) error
	// GetQuote returns ErrNotFound when no quote is cached for the asset.
	GetQuote(ctx context.Context, asset string) (Quote, time.Time, error)
}

// SignalBus publishes position lifecycle events for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// LockManager provides a distributed mutex. Acquire returns ErrLockHeld when
// another party holds the key; on success the returned function releases the
// lock and is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
