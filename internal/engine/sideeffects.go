package engine

import (
	"context"
	"sync"
	"time"

	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

type effectFailure struct {
	kind string
	err  error
}

// dispatch runs fn as a detached task with its own deadline. Failures flow
// through the engine's error channel and are logged, never surfaced to the
// inbound interaction.
func (e *Engine) dispatch(wg *sync.WaitGroup, kind string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			select {
			case e.effectErrs <- effectFailure{kind: kind, err: err}:
			default:
				// Channel full; the log line below is the record of last resort.
				e.log.Error("side effect failed", "kind", kind, "error", err)
				metrics.RecordSideEffectFailure(kind)
			}
		}
	}()
}

func (e *Engine) drainEffectErrs() {
	for f := range e.effectErrs {
		e.log.Error("side effect failed", "kind", f.kind, "error", f.err)
		metrics.RecordSideEffectFailure(f.kind)
	}
}

// waitEffects holds the handler open for in-flight side effects when a grace
// window is configured. Long-running deployments leave it at zero and let
// effects finish on their own.
func (e *Engine) waitEffects(wg *sync.WaitGroup) {
	if e.cfg.SideEffectWait <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.SideEffectWait):
		e.log.Warn("side effects still running past grace window")
	}
}

// appendEvent records an analytics event as a detached task.
func (e *Engine) appendEvent(wg *sync.WaitGroup, botID string, userID int64, kind, stateKey, payload string) {
	e.dispatch(wg, "analytics", func(sctx context.Context) error {
		return e.analytics.Append(sctx, domain.AnalyticsEvent{
			BotID:      botID,
			UserID:     userID,
			Kind:       kind,
			StateKey:   stateKey,
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		})
	})
}

// appendEventNow records an analytics event inline, for callers already
// running inside a detached task.
func (e *Engine) appendEventNow(ctx context.Context, botID string, userID int64, kind, stateKey, payload string) {
	err := e.analytics.Append(ctx, domain.AnalyticsEvent{
		BotID:      botID,
		UserID:     userID,
		Kind:       kind,
		StateKey:   stateKey,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		e.log.Error("side effect failed", "kind", "analytics", "error", err)
		metrics.RecordSideEffectFailure("analytics")
	}
}
