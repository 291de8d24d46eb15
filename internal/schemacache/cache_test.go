package schemacache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/schema"
)

const testBotID = "3f1e9c1a-6f0d-4a3b-9a53-0b8f1d2c4e5f"

type fakeLoader struct {
	raw     []byte
	version int64
	err     error
	calls   int
}

func (f *fakeLoader) LoadDefinition(ctx context.Context, botID string) ([]byte, int64, error) {
	f.calls++
	return f.raw, f.version, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func definitionJSON(t *testing.T, message string) []byte {
	t.Helper()

	def := &schema.DialogueDefinition{
		Version:      schema.FormatVersion,
		InitialState: "start",
		States:       map[string]schema.State{"start": {Message: message}},
	}
	raw, err := def.Encode()
	require.NoError(t, err)
	return raw
}

func newTestCache(t *testing.T, loader Loader) (*miniredis.Miniredis, *Cache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cacheBrk := breaker.New("redis", breaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute})
	storeBrk := breaker.New("postgres", breaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute})

	return mr, New(client, loader, cacheBrk, storeBrk, testLogger())
}

func TestCache_MissLoadsAndWritesBack(t *testing.T) {
	loader := &fakeLoader{raw: definitionJSON(t, "hello"), version: 3}
	_, cache := newTestCache(t, loader)
	ctx := context.Background()

	def, version, err := cache.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, "hello", def.States["start"].Message)
	assert.Equal(t, 1, loader.calls)

	// Second read is served from cache.
	_, _, err = cache.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestCache_InvalidateForcesFreshRead(t *testing.T) {
	loader := &fakeLoader{raw: definitionJSON(t, "v1"), version: 1}
	_, cache := newTestCache(t, loader)
	ctx := context.Background()

	_, _, err := cache.Get(ctx, testBotID)
	require.NoError(t, err)

	loader.raw = definitionJSON(t, "v2")
	loader.version = 2
	require.NoError(t, cache.Invalidate(ctx, testBotID))

	def, version, err := cache.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, "v2", def.States["start"].Message)
	assert.Equal(t, 2, loader.calls)
}

func TestCache_FallsBackToStoreWhenRedisDown(t *testing.T) {
	loader := &fakeLoader{raw: definitionJSON(t, "direct"), version: 1}
	mr, cache := newTestCache(t, loader)
	mr.Close()

	def, _, err := cache.Get(context.Background(), testBotID)
	require.NoError(t, err)
	assert.Equal(t, "direct", def.States["start"].Message)
}

func TestCache_NoDefinition(t *testing.T) {
	loader := &fakeLoader{raw: nil, version: 0}
	_, cache := newTestCache(t, loader)

	_, _, err := cache.Get(context.Background(), testBotID)
	assert.ErrorIs(t, err, ErrNoDefinition)
}

func TestCache_LoaderErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	loader := &fakeLoader{err: boom}
	_, cache := newTestCache(t, loader)

	_, _, err := cache.Get(context.Background(), testBotID)
	assert.ErrorIs(t, err, boom)
}

func TestCache_InvalidStoredDefinitionRejected(t *testing.T) {
	loader := &fakeLoader{raw: []byte(`{"version":1,"initial_state":"missing","states":{"a":{"message":"x"}}}`), version: 1}
	_, cache := newTestCache(t, loader)

	_, _, err := cache.Get(context.Background(), testBotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
