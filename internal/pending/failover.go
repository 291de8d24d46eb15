package pending

import (
	"context"
	"errors"
	"log/slog"

	"github.com/botfleet/webhook-router/internal/breaker"
)

// Failover serves pending-input records from the cache store and degrades to
// the in-process tracker when the cache store errors or its breaker is open.
type Failover struct {
	primary  Tracker
	fallback Tracker
	breaker  *breaker.Breaker
	log      *slog.Logger
}

var _ Tracker = (*Failover)(nil)

// NewFailover wires the primary and fallback trackers under one interface.
func NewFailover(primary, fallback Tracker, brk *breaker.Breaker, log *slog.Logger) *Failover {
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

func (f *Failover) Set(ctx context.Context, botID string, userID int64, rec Record) error {
	if f.primary == nil {
		return f.fallback.Set(ctx, botID, userID, rec)
	}

	err := f.breaker.Execute(func() error {
		return f.primary.Set(ctx, botID, userID, rec)
	})
	if err == nil {
		return nil
	}

	f.log.Debug("pending input armed in degraded in-process tracker", "bot_id", botID, "error", err)
	return f.fallback.Set(ctx, botID, userID, rec)
}

func (f *Failover) Get(ctx context.Context, botID string, userID int64) (*Record, error) {
	if f.primary == nil {
		return f.fallback.Get(ctx, botID, userID)
	}

	var rec *Record
	err := f.breaker.Execute(func() error {
		var getErr error
		rec, getErr = f.primary.Get(ctx, botID, userID)
		if errors.Is(getErr, ErrNotFound) {
			rec = nil
			return nil
		}
		return getErr
	})
	if err == nil {
		if rec == nil {
			return nil, ErrNotFound
		}
		return rec, nil
	}

	return f.fallback.Get(ctx, botID, userID)
}

func (f *Failover) Clear(ctx context.Context, botID string, userID int64) error {
	if f.primary == nil {
		return f.fallback.Clear(ctx, botID, userID)
	}

	err := f.breaker.Execute(func() error {
		return f.primary.Clear(ctx, botID, userID)
	})
	if err == nil {
		// Clear both so a fallback copy armed during an outage cannot linger.
		_ = f.fallback.Clear(ctx, botID, userID)
		return nil
	}

	return f.fallback.Clear(ctx, botID, userID)
}
