package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_EnforcesWindow(t *testing.T) {
	limiter := NewMemoryLimiter(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "tenant:x", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Allow(ctx, "tenant:x", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestMemoryLimiter_WindowRollover(t *testing.T) {
	limiter := NewMemoryLimiter(10)
	ctx := context.Background()

	window := 50 * time.Millisecond
	result, err := limiter.Allow(ctx, "tenant:y", 1, window)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "tenant:y", 1, window)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	time.Sleep(window + 10*time.Millisecond)

	result, err = limiter.Allow(ctx, "tenant:y", 1, window)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryLimiter_BoundsTrackedScopes(t *testing.T) {
	limiter := NewMemoryLimiter(5)
	ctx := context.Background()

	for _, scope := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		_, err := limiter.Allow(ctx, scope, 10, time.Minute)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, limiter.Len(), 6)
}

func TestMemoryLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewMemoryLimiter(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Allow(ctx, "tenant:z", 40, time.Minute)
			require.NoError(t, err)
			allowed <- result.Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 40, count)
}
