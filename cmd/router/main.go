package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/broadcast"
	"github.com/botfleet/webhook-router/internal/connmgr"
	"github.com/botfleet/webhook-router/internal/database"
	"github.com/botfleet/webhook-router/internal/dedup"
	"github.com/botfleet/webhook-router/internal/engine"
	"github.com/botfleet/webhook-router/internal/health"
	"github.com/botfleet/webhook-router/internal/integration"
	"github.com/botfleet/webhook-router/internal/lifecycle"
	"github.com/botfleet/webhook-router/internal/pending"
	"github.com/botfleet/webhook-router/internal/provider"
	"github.com/botfleet/webhook-router/internal/ratelimit"
	"github.com/botfleet/webhook-router/internal/repository"
	"github.com/botfleet/webhook-router/internal/schemacache"
	"github.com/botfleet/webhook-router/internal/server"
	"github.com/botfleet/webhook-router/internal/userstate"
	"github.com/botfleet/webhook-router/pkg/config"
	"github.com/botfleet/webhook-router/pkg/graceful"
	"github.com/botfleet/webhook-router/pkg/logger"
	"github.com/botfleet/webhook-router/pkg/metrics"
	"github.com/botfleet/webhook-router/pkg/postgres"
	redisclient "github.com/botfleet/webhook-router/pkg/redis"
)

const fallbackStateEntries = 50000

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logger)
	slog.SetDefault(log)
	defer logger.Flush(2 * time.Second)

	log.Info("webhook router starting", "env", cfg.AppEnv, "addr", cfg.Server.Port)

	shutdown := lifecycle.NewShutdown(log)

	manager := connmgr.NewManager(connmgr.RetryPolicy{
		Attempts:          cfg.Connect.Attempts,
		BaseDelay:         cfg.Connect.BaseDelay,
		MaxDelay:          cfg.Connect.MaxDelay,
		PerAttemptTimeout: cfg.Connect.PerAttemptTimeout,
	}, log)

	// The relational store is the source of truth; without it there is
	// nothing to route.
	var pool *pgxpool.Pool
	err = manager.Acquire(ctx, "postgres", cfg.Postgres.RedactedTarget(), func(dialCtx context.Context) error {
		var dialErr error
		pool, dialErr = postgres.NewPool(dialCtx, cfg.Postgres)
		return dialErr
	})
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})

	migrator := database.NewMigrator(pool, log)
	if err := migrator.ApplyDir(ctx, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// The cache store is not: everything it backs has an in-process
	// fallback, so a failed connect only means starting degraded.
	var cache *redisclient.Client
	redisErr := manager.Acquire(ctx, "redis", cfg.Redis.Addr, func(dialCtx context.Context) error {
		var dialErr error
		cache, dialErr = redisclient.New(dialCtx, cfg.Redis)
		return dialErr
	})
	if redisErr != nil {
		log.Warn("cache store unreachable, starting degraded", "error", redisErr)
	}
	shutdown.Register("redis", func(context.Context) error {
		return cache.Close()
	})

	brkCfg := breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		ResetTimeout:      cfg.Breaker.ResetTimeout,
		HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
	}
	pgBreaker := newBreaker("postgres", brkCfg)
	redisCacheBreaker := newBreaker("redis_cache", brkCfg)
	redisStateBreaker := newBreaker("redis_state", brkCfg)
	redisLimitBreaker := newBreaker("redis_ratelimit", brkCfg)

	rl := cfg.RateLimit.Normalized()
	limiter := ratelimit.NewService(
		ratelimit.NewRedisLimiter(cache, log),
		ratelimit.NewMemoryLimiter(rl.MemoryMaxScopes),
		redisLimitBreaker,
		rl,
		log,
	)

	bots := repository.NewBotRepo(pool)
	users := repository.NewUserRepo(pool)
	campaigns := repository.NewBroadcastRepo(pool)
	deliveries := repository.NewBroadcastMessageRepo(pool)
	analytics := repository.NewAnalyticsRepo(pool)

	definitions := schemacache.New(cache, bots, redisCacheBreaker, pgBreaker, log)

	stateFallback := userstate.NewMemoryStore(fallbackStateEntries)
	states := userstate.NewFailover(
		userstate.NewRedisStore(cache, log),
		stateFallback,
		redisStateBreaker,
		log,
	)

	pendingFallback := pending.NewMemoryTracker()
	tracker := pending.NewFailover(
		pending.NewRedisTracker(cache, log),
		pendingFallback,
		redisStateBreaker,
		log,
	)

	marker := dedup.NewRedisMarker(cache, log)

	sender := provider.New(cfg.Provider.APIURL, cfg.Provider.Timeout)
	webhooks := integration.NewDispatcher(cfg.Provider.WebhookTimeout)

	engineCfg := engine.Config{SideEffectTimeout: cfg.Provider.WebhookTimeout}
	if cfg.Server.Serverless {
		engineCfg.SideEffectWait = cfg.Server.SideEffectWait
	}
	dialogue := engine.New(definitions, states, tracker, marker, sender, webhooks,
		users, analytics, deliveries, engineCfg, log)

	runner := broadcast.NewRunner(campaigns, deliveries, bots, sender, pgBreaker, cfg.Broadcast, log)

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewPGChecker(pool), true)
	checker.AddCheck("redis", health.NewRedisChecker(cache), false)
	checker.AddBreaker(pgBreaker)
	checker.AddBreaker(redisCacheBreaker)
	checker.AddBreaker(redisStateBreaker)
	checker.AddBreaker(redisLimitBreaker)
	checker.SetPools(pool, cache.PoolStats)
	checker.SetRetryStats(manager.Stats())
	checker.AddFallbackSize("userstate", stateFallback)
	checker.AddFallbackSize("pending", pendingFallback)

	srv := server.New(cfg.Server, bots, limiter, dialogue, runner, webhooks, checker, pgBreaker, log)

	serveErr := graceful.NewServer(log, srv.HTTPServer(), cfg.Server.ShutdownTimeout).ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", "error", err)
	}

	return serveErr
}

func newBreaker(name string, cfg breaker.Config) *breaker.Breaker {
	b := breaker.New(name, cfg)
	b.OnTransition(func(dep string, s breaker.State) {
		metrics.SetBreakerState(dep, int(s))
	})
	return b
}
