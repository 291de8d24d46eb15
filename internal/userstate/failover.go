package userstate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/botfleet/webhook-router/internal/breaker"
)

// Failover serves user state from the cache store and degrades to the
// in-process store when the cache store errors or its breaker is open. Call
// sites never learn which backing store answered.
type Failover struct {
	primary  Store
	fallback Store
	breaker  *breaker.Breaker
	log      *slog.Logger
}

var _ Store = (*Failover)(nil)

// NewFailover wires the primary and fallback stores under one interface.
func NewFailover(primary, fallback Store, brk *breaker.Breaker, log *slog.Logger) *Failover {
	if log == nil {
		log = slog.Default()
	}

	return &Failover{
		primary:  primary,
		fallback: fallback,
		breaker:  brk,
		log:      log,
	}
}

// Get reads from the primary store, then the fallback on primary failure.
func (f *Failover) Get(ctx context.Context, botID string, userID int64) (string, error) {
	if f.primary == nil {
		return f.fallback.Get(ctx, botID, userID)
	}

	var value string
	err := f.breaker.Execute(func() error {
		var getErr error
		value, getErr = f.primary.Get(ctx, botID, userID)
		if errors.Is(getErr, ErrNotFound) {
			// A miss is an answer, not a dependency failure.
			value = ""
			return nil
		}
		return getErr
	})
	if err == nil {
		if value == "" {
			return "", ErrNotFound
		}
		return value, nil
	}

	f.log.Debug("user state served from degraded in-process store", "bot_id", botID, "user_id", userID, "error", err)
	return f.fallback.Get(ctx, botID, userID)
}

// Set writes to the primary store, then the fallback on primary failure.
func (f *Failover) Set(ctx context.Context, botID string, userID int64, value string) error {
	if f.primary == nil {
		return f.fallback.Set(ctx, botID, userID, value)
	}

	err := f.breaker.Execute(func() error {
		return f.primary.Set(ctx, botID, userID, value)
	})
	if err == nil {
		return nil
	}

	f.log.Debug("user state written to degraded in-process store", "bot_id", botID, "user_id", userID, "error", err)
	return f.fallback.Set(ctx, botID, userID, value)
}
