// Package breaker implements a circuit breaker that guards every relational
// store, cache store and provider call made by the router and the broadcast
// pipeline.
package breaker

import (
	"errors"
	"sync"
	"time"

	apperrors "github.com/botfleet/webhook-router/internal/errors"
)

// State enumerates the breaker positions.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without touching the dependency while the breaker is
// open or the half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes breaker thresholds. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the number of consecutive qualifying failures that
	// opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the breaker again.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before allowing probes.
	ResetTimeout time.Duration
	// HalfOpenMaxProbes caps in-flight probe calls while half-open.
	HalfOpenMaxProbes int
	// Qualify decides whether an error counts against the dependency.
	// Defaults to the transient connection-failure classes, so validation
	// and not-found errors never trip the breaker.
	Qualify func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = 1
	}
	if c.Qualify == nil {
		c.Qualify = apperrors.IsTransient
	}
	return c
}

// Snapshot is a point-in-time view of one breaker, exported via /health.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastTransition       time.Time `json:"last_transition"`
}

// Breaker tracks consecutive failures for one named dependency.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	probes         int
	lastTransition time.Time

	onTransition func(name string, s State)
	now          func() time.Time
}

// New constructs a closed breaker for the named dependency.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:           name,
		cfg:            cfg.withDefaults(),
		state:          StateClosed,
		lastTransition: time.Now(),
		now:            time.Now,
	}
}

// OnTransition registers a callback invoked after every state change, used to
// keep prometheus gauges current. Must be set before first use.
func (b *Breaker) OnTransition(fn func(name string, s State)) {
	b.onTransition = fn
}

// Execute runs fn under the breaker policy. When open it returns ErrOpen
// immediately; fn is not called.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastTransition) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.probes = 1
		return nil
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxProbes {
			return ErrOpen
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if err != nil && b.cfg.Qualify(err) {
		b.successes = 0
		b.failures++

		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
		return
	}

	// Success, or a non-qualifying failure: the dependency itself answered.
	b.failures = 0

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.successes = 0
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}

	b.state = to
	b.lastTransition = b.now()
	b.failures = 0
	b.successes = 0
	b.probes = 0

	if b.onTransition != nil {
		b.onTransition(b.name, to)
	}
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Snapshot exports the breaker internals for the health endpoint.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastTransition:       b.lastTransition,
	}
}
