package userstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the primary user-state backend shared across router
// instances.
type RedisStore struct {
	client redis.Cmdable
	log    *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore initializes a Redis-backed Store implementation.
func NewRedisStore(client redis.Cmdable, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

// Get returns the stored state key or ErrNotFound when absent.
func (s *RedisStore) Get(ctx context.Context, botID string, userID int64) (string, error) {
	key := stateKey(botID, userID)

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}

		s.log.Error("failed to get user state", "bot_id", botID, "user_id", userID, "error", err)
		return "", err
	}

	return value, nil
}

// Set overwrites the state key with the fixed TTL.
func (s *RedisStore) Set(ctx context.Context, botID string, userID int64, value string) error {
	if err := s.client.Set(ctx, stateKey(botID, userID), value, TTL).Err(); err != nil {
		s.log.Error("failed to save user state", "bot_id", botID, "user_id", userID, "error", err)
		return err
	}

	return nil
}

func stateKey(botID string, userID int64) string {
	return fmt.Sprintf("userstate:%s:%d", botID, userID)
}
