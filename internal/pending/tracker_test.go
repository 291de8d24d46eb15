package pending

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotID = "3f1e9c1a-6f0d-4a3b-9a53-0b8f1d2c4e5f"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTracker(t *testing.T) (*miniredis.Miniredis, *RedisTracker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisTracker(client, testLogger())
}

func TestRedisTracker_SetGetClear(t *testing.T) {
	_, tracker := setupTracker(t)
	ctx := context.Background()

	rec := Record{Kind: KindContact, TargetState: "thanks", OriginState: "pricing"}
	require.NoError(t, tracker.Set(ctx, testBotID, 42, rec))

	got, err := tracker.Get(ctx, testBotID, 42)
	require.NoError(t, err)
	assert.Equal(t, KindContact, got.Kind)
	assert.Equal(t, "thanks", got.TargetState)
	assert.Equal(t, "pricing", got.OriginState)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, tracker.Clear(ctx, testBotID, 42))

	_, err = tracker.Get(ctx, testBotID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTracker_UnmatchedEntryExpires(t *testing.T) {
	mr, tracker := setupTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Set(ctx, testBotID, 42, Record{Kind: KindEmail, TargetState: "done", OriginState: "form"}))

	mr.FastForward(TTL + time.Minute)

	_, err := tracker.Get(ctx, testBotID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTracker_ClearAbsentIsNoop(t *testing.T) {
	_, tracker := setupTracker(t)
	assert.NoError(t, tracker.Clear(context.Background(), testBotID, 999))
}

func TestMemoryTracker_RoundTrip(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tracker.Set(ctx, testBotID, 1, Record{Kind: KindEmail, TargetState: "done", OriginState: "form"}))
	assert.Equal(t, 1, tracker.Len())

	got, err := tracker.Get(ctx, testBotID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindEmail, got.Kind)

	require.NoError(t, tracker.Clear(ctx, testBotID, 1))
	_, err = tracker.Get(ctx, testBotID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTracker_Expiry(t *testing.T) {
	tracker := NewMemoryTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, tracker.Set(ctx, testBotID, 1, Record{Kind: KindContact, TargetState: "t", OriginState: "o"}))

	now = now.Add(TTL + time.Minute)
	_, err := tracker.Get(ctx, testBotID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
