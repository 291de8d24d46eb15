// Package dedup marks inbound provider update ids exactly once per bot, so
// redelivered updates cannot double-count side-effect accounting. The primary
// render path stays idempotent and is allowed to re-execute.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL bounds how long an update id is remembered. The provider's redelivery
// window is far shorter.
const TTL = 24 * time.Hour

// Marker records first-sight of provider update ids.
type Marker interface {
	// MarkOnce records (botID, updateID) and reports whether this call was
	// the first sighting.
	MarkOnce(ctx context.Context, botID string, updateID int64) (bool, error)
}

// RedisMarker implements Marker with SETNX markers in the cache store.
type RedisMarker struct {
	client redis.Cmdable
	log    *slog.Logger
}

var _ Marker = (*RedisMarker)(nil)

// NewRedisMarker initializes a Redis-backed Marker.
func NewRedisMarker(client redis.Cmdable, log *slog.Logger) *RedisMarker {
	if log == nil {
		log = slog.Default()
	}

	return &RedisMarker{
		client: client,
		log:    log,
	}
}

// MarkOnce sets the marker if absent. On cache store failure it reports
// not-first: skipping accounting is safer than double-counting it.
func (m *RedisMarker) MarkOnce(ctx context.Context, botID string, updateID int64) (bool, error) {
	key := fmt.Sprintf("dedup:%s:%d", botID, updateID)

	first, err := m.client.SetNX(ctx, key, 1, TTL).Result()
	if err != nil {
		m.log.Error("failed to set dedup marker", "bot_id", botID, "update_id", updateID, "error", err)
		return false, err
	}

	return first, nil
}
