// Package ratelimit enforces fixed-window event limits per tenant and
// globally, backed by the cache store with an in-process fallback.
package ratelimit

import (
	"context"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Limiter describes one rate-limiting backend. Allow increments the counter
// for the current window bucket and reports whether the post-increment count
// stays within limit.
type Limiter interface {
	Allow(ctx context.Context, scope string, limit int, window time.Duration) (*Result, error)
}

// windowBucket maps now onto the fixed window that contains it.
func windowBucket(now time.Time, window time.Duration) int64 {
	return now.UnixNano() / int64(window)
}

func windowReset(now time.Time, window time.Duration) time.Time {
	bucket := windowBucket(now, window)
	return time.Unix(0, (bucket+1)*int64(window))
}
