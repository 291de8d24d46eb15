package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	bucket int64
	count  int64
}

// MemoryLimiter is the in-process fallback Limiter used while the cache store
// is unavailable. Counts are consistent only within one process, an accepted
// precision loss during cache outages.
type MemoryLimiter struct {
	mu        sync.Mutex
	counters  map[string]*counter
	maxScopes int
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter bounded to maxScopes tracked
// scopes.
func NewMemoryLimiter(maxScopes int) *MemoryLimiter {
	if maxScopes <= 0 {
		maxScopes = 10000
	}

	return &MemoryLimiter{
		counters:  make(map[string]*counter),
		maxScopes: maxScopes,
	}
}

// Allow increments the in-process counter for the scope's current window.
func (m *MemoryLimiter) Allow(ctx context.Context, scope string, limit int, window time.Duration) (*Result, error) {
	now := time.Now()
	bucket := windowBucket(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counters[scope]
	if c == nil {
		if len(m.counters) >= m.maxScopes {
			m.evictStaleLocked(bucket)
		}
		c = &counter{bucket: bucket}
		m.counters[scope] = c
	}

	if c.bucket != bucket {
		c.bucket = bucket
		c.count = 0
	}

	c.count++
	remaining := limit - int(c.count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   c.count <= int64(limit),
		Count:     c.count,
		Remaining: remaining,
		ResetAt:   windowReset(now, window),
	}, nil
}

// Len reports the number of tracked scopes, exposed via /health.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// evictStaleLocked drops counters whose window already passed; if none are
// stale the map is cleared outright to honor the size bound.
func (m *MemoryLimiter) evictStaleLocked(currentBucket int64) {
	evicted := false
	for scope, c := range m.counters {
		if c.bucket < currentBucket {
			delete(m.counters, scope)
			evicted = true
		}
	}

	if !evicted {
		m.counters = make(map[string]*counter)
	}
}
