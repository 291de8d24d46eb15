// Package redis constructs the cache store client used by the router.
package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/botfleet/webhook-router/pkg/config"
)

// Client wraps the go-redis client so callers depend on one constructor.
type Client struct {
	*redis.Client
}

// New creates a Redis client configured with cfg and verifies the connection
// with Ping. The client is returned even when the ping fails: go-redis
// reconnects on its own, so callers may keep the handle and run degraded
// until the store comes back.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
	}

	rdb := redis.NewClient(opts)
	rdb.AddHook(newMetricsHook())

	if err := rdb.Ping(ctx).Err(); err != nil {
		return &Client{rdb}, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb}, nil
}

// PoolStats reports connection pool occupancy for the health endpoint.
func (c *Client) PoolStats() *redis.PoolStats {
	if c == nil || c.Client == nil {
		return &redis.PoolStats{}
	}
	return c.Client.PoolStats()
}

// Close shuts down the Redis client.
func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
