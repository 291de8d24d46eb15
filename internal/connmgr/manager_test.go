package connmgr

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/botfleet/webhook-router/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts:          attempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		PerAttemptTimeout: time.Second,
	}
}

func TestManager_AcquireSucceedsAfterRetries(t *testing.T) {
	m := NewManager(fastPolicy(4), testLogger())

	calls := 0
	err := m.Acquire(context.Background(), "postgres", "localhost:5432/app", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNREFUSED
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	stats := m.Stats().Snapshot()["postgres"]
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 2, stats.Failures)
	assert.False(t, stats.LastSuccess.IsZero())
}

func TestManager_AcquireExhaustsRetries(t *testing.T) {
	m := NewManager(fastPolicy(3), testLogger())

	calls := 0
	err := m.Acquire(context.Background(), "redis", "localhost:6379", func(ctx context.Context) error {
		calls++
		return syscall.ECONNREFUSED
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindUnavailable, appErr.Kind)
	assert.Contains(t, appErr.Message, "3 attempts")
	assert.Contains(t, appErr.Message, "localhost:6379")
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestManager_AcquireStopsOnContextCancel(t *testing.T) {
	m := NewManager(RetryPolicy{
		Attempts:          10,
		BaseDelay:         time.Hour,
		MaxDelay:          time.Hour,
		PerAttemptTimeout: time.Second,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(ctx, "redis", "localhost:6379", func(ctx context.Context) error {
			calls++
			return syscall.ECONNREFUSED
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
