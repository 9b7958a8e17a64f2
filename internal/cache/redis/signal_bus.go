package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub. Position
// lifecycle events (opened, closed) go out on it for external consumers such
// as dashboards.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
