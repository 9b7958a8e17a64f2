// Package redis backs the daemon's coordination surfaces with go-redis/v9:
// the short-lived price cache, the position lifecycle Pub/Sub bus, and the
// one-instance-per-watched-wallet process lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the connection parameters taken from the [redis]
// section of the daemon configuration.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the single shared go-redis connection pool that the cache,
// bus, and lock manager are built over.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the connection with a ping. Redis holds the
// process lock, so the daemon refuses to start when it is unreachable.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw driver client to the sibling files in this
// package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
