// Package health aggregates dependency probes, breaker snapshots and pool
// occupancy into one report for the health endpoint.
package health

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/connmgr"
)

// Status values of the aggregate report. The cache store alone being down is
// degraded, not down: the router keeps serving on its fallbacks.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Sizer reports the occupancy of an in-process fallback store.
type Sizer interface {
	Len() int
}

// PoolOccupancy summarizes the relational pool.
type PoolOccupancy struct {
	Total    int32 `json:"total"`
	Acquired int32 `json:"acquired"`
	Idle     int32 `json:"idle"`
	Max      int32 `json:"max"`
}

// Report is the health endpoint's body.
type Report struct {
	Status        string                        `json:"status"`
	Checks        map[string]string             `json:"checks"`
	Breakers      []breaker.Snapshot            `json:"breakers,omitempty"`
	PostgresPool  *PoolOccupancy                `json:"postgres_pool,omitempty"`
	RedisPool     *redis.PoolStats              `json:"redis_pool,omitempty"`
	Dependencies  map[string]connmgr.DepStats   `json:"dependencies,omitempty"`
	FallbackSizes map[string]int                `json:"fallback_sizes,omitempty"`
}

type registered struct {
	check    Checkable
	critical bool
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log       *slog.Logger
	checks    map[string]registered
	breakers  []*breaker.Breaker
	pgPool    *pgxpool.Pool
	redisPool func() *redis.PoolStats
	retries   *connmgr.Stats
	fallbacks map[string]Sizer
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	return &Checker{
		log:       log,
		checks:    make(map[string]registered),
		fallbacks: make(map[string]Sizer),
	}
}

// AddCheck registers a checkable component by name. Critical components take
// the whole report to down when they fail; non-critical ones only degrade it.
func (c *Checker) AddCheck(name string, check Checkable, critical bool) {
	if name == "" || check == nil {
		return
	}
	c.checks[name] = registered{check: check, critical: critical}
}

// AddBreaker includes a breaker's snapshot in every report.
func (c *Checker) AddBreaker(b *breaker.Breaker) {
	if b != nil {
		c.breakers = append(c.breakers, b)
	}
}

// SetPools wires pool-occupancy sources. Either may be nil.
func (c *Checker) SetPools(pg *pgxpool.Pool, redisStats func() *redis.PoolStats) {
	c.pgPool = pg
	c.redisPool = redisStats
}

// SetRetryStats includes connection-retry counters in every report.
func (c *Checker) SetRetryStats(s *connmgr.Stats) { c.retries = s }

// AddFallbackSize reports the occupancy of an in-process degraded-mode store.
func (c *Checker) AddFallbackSize(name string, s Sizer) {
	if name != "" && s != nil {
		c.fallbacks[name] = s
	}
}

// Check runs all registered probes and assembles the report.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Status: StatusOK,
		Checks: make(map[string]string, len(c.checks)),
	}

	for name, reg := range c.checks {
		if err := reg.check.HealthCheck(ctx); err != nil {
			report.Checks[name] = err.Error()
			if reg.critical {
				report.Status = StatusDown
			} else if report.Status == StatusOK {
				report.Status = StatusDegraded
			}
			c.log.Error("health check failed", slog.String("component", name), slog.Any("error", err))
			continue
		}
		report.Checks[name] = "OK"
	}

	for _, b := range c.breakers {
		report.Breakers = append(report.Breakers, b.Snapshot())
	}

	if c.pgPool != nil {
		stat := c.pgPool.Stat()
		report.PostgresPool = &PoolOccupancy{
			Total:    stat.TotalConns(),
			Acquired: stat.AcquiredConns(),
			Idle:     stat.IdleConns(),
			Max:      stat.MaxConns(),
		}
	}
	if c.redisPool != nil {
		report.RedisPool = c.redisPool()
	}
	if c.retries != nil {
		report.Dependencies = c.retries.Snapshot()
	}
	for name, s := range c.fallbacks {
		if report.FallbackSizes == nil {
			report.FallbackSizes = make(map[string]int, len(c.fallbacks))
		}
		report.FallbackSizes[name] = s.Len()
	}

	return report
}

// PGChecker verifies connectivity to the relational store.
type PGChecker struct {
	pool *pgxpool.Pool
}

func NewPGChecker(pool *pgxpool.Pool) *PGChecker { return &PGChecker{pool: pool} }

func (c *PGChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pool == nil {
		return errors.New("postgres pool is not initialized")
	}
	return c.pool.Ping(ctx)
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to the cache store.
type RedisChecker struct {
	pinger Pinger
}

func NewRedisChecker(pinger Pinger) *RedisChecker { return &RedisChecker{pinger: pinger} }

func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}
