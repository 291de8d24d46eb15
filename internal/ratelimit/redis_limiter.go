package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter with fixed-window counters shared across
// router instances.
type RedisLimiter struct {
	client redis.Cmdable
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter implementation.
func NewRedisLimiter(client redis.Cmdable, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
	}
}

// Allow increments the (scope, window-bucket) counter and compares the
// post-increment count against limit. The key expires two windows after its
// last touch so stale buckets clean themselves up.
func (l *RedisLimiter) Allow(ctx context.Context, scope string, limit int, window time.Duration) (*Result, error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s:%d", scope, windowBucket(now, window))

	pipe := l.client.TxPipeline()
	countCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("rate limiter pipeline failed", slog.String("scope", scope), slog.Any("error", err))
		return nil, err
	}

	count := countCmd.Val()
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= int64(limit),
		Count:     count,
		Remaining: remaining,
		ResetAt:   windowReset(now, window),
	}, nil
}
