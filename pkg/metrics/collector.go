// Package metrics exposes prometheus collectors for the webhook router and
// the broadcast pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound webhook requests labeled by outcome.",
		},
		[]string{"outcome"},
	)
	webhookDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "End-to-end inbound webhook handling duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
	dialogueTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogue_transitions_total",
			Help: "Dialogue state transitions labeled by trigger kind.",
		},
		[]string{"trigger"},
	)
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Events rejected by the rate limiter labeled by scope kind.",
		},
		[]string{"scope"},
	)
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker position per dependency (0 closed, 1 open, 2 half-open).",
		},
		[]string{"dependency"},
	)
	dependencyRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dependency_connect_attempts_total",
			Help: "Dependency connection attempts labeled by dependency and outcome.",
		},
		[]string{"dependency", "outcome"},
	)
	sideEffectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Failed fire-and-forget side effects labeled by kind.",
		},
		[]string{"kind"},
	)
	broadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_messages_total",
			Help: "Broadcast delivery outcomes.",
		},
		[]string{"outcome"},
	)
	broadcastReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_reclaimed_total",
			Help: "Broadcast messages reclaimed from stale sending leases.",
		},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Classified errors labeled by kind and severity.",
		},
		[]string{"kind", "severity"},
	)
)

// RecordWebhook tracks one handled inbound webhook request.
func RecordWebhook(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	webhookRequestsTotal.WithLabelValues(outcome).Inc()
	webhookDurationSeconds.Observe(duration.Seconds())
}

// RecordTransition tracks a dialogue state transition.
func RecordTransition(trigger string) {
	dialogueTransitionsTotal.WithLabelValues(trigger).Inc()
}

// RecordRateLimitRejection tracks a throttled event.
func RecordRateLimitRejection(scope string) {
	rateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// SetBreakerState updates the gauge for one dependency breaker.
func SetBreakerState(dependency string, state int) {
	breakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordConnectAttempt tracks a dependency connection attempt.
func RecordConnectAttempt(dependency string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	dependencyRetriesTotal.WithLabelValues(dependency, outcome).Inc()
}

// RecordSideEffectFailure tracks a failed detached side effect.
func RecordSideEffectFailure(kind string) {
	sideEffectFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordBroadcastMessage tracks one broadcast delivery outcome.
func RecordBroadcastMessage(outcome string) {
	broadcastMessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordBroadcastReclaim tracks reclaimed stale leases.
func RecordBroadcastReclaim(count int) {
	broadcastReclaimedTotal.Add(float64(count))
}

// RecordError tracks a classified error.
func RecordError(kind, severity string) {
	if kind == "" {
		kind = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}
	errorsTotal.WithLabelValues(kind, severity).Inc()
}
