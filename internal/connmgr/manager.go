// Package connmgr establishes connections to the relational and cache stores
// with bounded, jittered retries and tracks per-dependency retry statistics.
package connmgr

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	apperrors "github.com/botfleet/webhook-router/internal/errors"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

// RetryPolicy bounds the connection attempts for one dependency.
type RetryPolicy struct {
	Attempts          int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PerAttemptTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = 5 * time.Second
	}
	return p
}

// Manager acquires dependency connections and records retry statistics.
type Manager struct {
	policy RetryPolicy
	log    *slog.Logger
	stats  *Stats
}

// NewManager constructs a Manager with the provided retry policy.
func NewManager(policy RetryPolicy, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		policy: policy.withDefaults(),
		log:    log,
		stats:  newStats(),
	}
}

// Stats exposes accumulated retry statistics for the health endpoint.
func (m *Manager) Stats() *Stats {
	return m.stats
}

// Acquire dials the named dependency with bounded retries: the delay doubles
// between attempts, is capped at MaxDelay and carries randomized jitter.
// Target must be a redacted description safe for logs; credentials are never
// logged. Exhausting every attempt returns a typed unavailable error
// embedding the attempt count and target.
func (m *Manager) Acquire(ctx context.Context, name, target string, dial func(ctx context.Context) error) error {
	policy := m.policy
	delay := policy.BaseDelay

	m.log.Info("connecting to dependency", slog.String("dependency", name), slog.String("target", target))

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.PerAttemptTimeout)
		err := dial(attemptCtx)
		cancel()

		m.stats.record(name, err)
		metrics.RecordConnectAttempt(name, err == nil)

		if err == nil {
			m.log.Info("dependency ready",
				slog.String("dependency", name),
				slog.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		m.log.Warn("dependency connection failed",
			slog.String("dependency", name),
			slog.String("target", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.Attempts),
			slog.Any("error", err),
		)

		if attempt == policy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return apperrors.NewUnavailable(name, target, attempt, ctx.Err())
		case <-time.After(withJitter(delay)):
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	m.log.Error("dependency unavailable, retries exhausted",
		slog.String("dependency", name),
		slog.String("target", target),
		slog.Int("attempts", policy.Attempts),
	)

	return apperrors.NewUnavailable(name, target, policy.Attempts, lastErr)
}

// withJitter adds up to 25% random jitter so parallel restarts do not thunder.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
