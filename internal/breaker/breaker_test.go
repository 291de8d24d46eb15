package breaker

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnRefused = syscall.ECONNREFUSED

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New("test", cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.lastTransition = now
	return b, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		err := b.Execute(func() error { return errConnRefused })
		assert.ErrorIs(t, err, errConnRefused)
		assert.Equal(t, StateClosed, b.State())
	}

	err := b.Execute(func() error { return errConnRefused })
	assert.ErrorIs(t, err, errConnRefused)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenFailsFastWithoutCallingDependency(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errConnRefused }))
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbeAndClose(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:  1,
		SuccessThreshold:  2,
		ResetTimeout:      time.Minute,
		HalfOpenMaxProbes: 1,
	})

	require.Error(t, b.Execute(func() error { return errConnRefused }))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(61 * time.Second)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 3, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errConnRefused }))
	*now = now.Add(2 * time.Minute)

	err := b.Execute(func() error { return errConnRefused })
	assert.ErrorIs(t, err, errConnRefused)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenLimitsInFlightProbes(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 5, ResetTimeout: time.Minute, HalfOpenMaxProbes: 1})

	require.Error(t, b.Execute(func() error { return errConnRefused }))
	*now = now.Add(2 * time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	require.Equal(t, StateHalfOpen, b.State())

	// A second call while the probe is in flight is rejected.
	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)

	close(release)
	require.NoError(t, <-done)
}

func TestBreaker_NonQualifyingErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	callerErr := errors.New("invalid button payload")
	for i := 0; i < 10; i++ {
		err := b.Execute(func() error { return callerErr })
		assert.ErrorIs(t, err, callerErr)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errConnRefused }))
	require.Error(t, b.Execute(func() error { return errConnRefused }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errConnRefused }))
	require.Error(t, b.Execute(func() error { return errConnRefused }))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 5, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errConnRefused }))

	snap := b.Snapshot()
	assert.Equal(t, "test", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}
