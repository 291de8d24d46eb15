package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker persists pending-input records in the cache store.
type RedisTracker struct {
	client redis.Cmdable
	log    *slog.Logger
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker initializes a Redis-backed Tracker implementation.
func NewRedisTracker(client redis.Cmdable, log *slog.Logger) *RedisTracker {
	if log == nil {
		log = slog.Default()
	}

	return &RedisTracker{
		client: client,
		log:    log,
	}
}

// Set arms a collection flow with the package TTL.
func (t *RedisTracker) Set(ctx context.Context, botID string, userID int64, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := t.client.Set(ctx, pendingKey(botID, userID), data, TTL).Err(); err != nil {
		t.log.Error("failed to arm pending input", "bot_id", botID, "user_id", userID, "error", err)
		return err
	}

	return nil
}

// Get returns the armed record or ErrNotFound.
func (t *RedisTracker) Get(ctx context.Context, botID string, userID int64) (*Record, error) {
	data, err := t.client.Get(ctx, pendingKey(botID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		t.log.Error("failed to read pending input", "bot_id", botID, "user_id", userID, "error", err)
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.log.Error("failed to decode pending input", "bot_id", botID, "user_id", userID, "error", err)
		return nil, err
	}

	return &rec, nil
}

// Clear consumes the armed record.
func (t *RedisTracker) Clear(ctx context.Context, botID string, userID int64) error {
	if err := t.client.Del(ctx, pendingKey(botID, userID)).Err(); err != nil {
		t.log.Error("failed to clear pending input", "bot_id", botID, "user_id", userID, "error", err)
		return err
	}

	return nil
}

func pendingKey(botID string, userID int64) string {
	return fmt.Sprintf("pending:%s:%d", botID, userID)
}
