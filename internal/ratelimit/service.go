package ratelimit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/botfleet/webhook-router/internal/breaker"
	apperrors "github.com/botfleet/webhook-router/internal/errors"
	"github.com/botfleet/webhook-router/pkg/config"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

const (
	// ScopeGlobal buckets every inbound event together.
	ScopeGlobal = "global"
	// scopeInvalidTenant absorbs events with malformed tenant identifiers so
	// a bad request can never pollute or starve a real tenant's bucket.
	scopeInvalidTenant = "tenant:invalid"
)

// Service evaluates the global and per-tenant limits for one inbound event.
// The cache store backend is preferred; when it errors or its breaker is
// open, the in-process limiter answers instead.
type Service struct {
	primary  Limiter
	fallback Limiter
	breaker  *breaker.Breaker
	cfg      config.RateLimitConfig
	log      *slog.Logger
}

// NewService wires the limiter backends. primary may be nil when the cache
// store is not configured; every check then uses the fallback.
func NewService(primary Limiter, fallback Limiter, brk *breaker.Breaker, cfg config.RateLimitConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		primary:  primary,
		fallback: fallback,
		breaker:  brk,
		cfg:      cfg.Normalized(),
		log:      log,
	}
}

// TenantScope derives the per-tenant bucket key. Identifiers that do not
// parse as UUIDs share the dedicated invalid bucket.
func TenantScope(botID string) string {
	if _, err := uuid.Parse(botID); err != nil {
		return scopeInvalidTenant
	}
	return "tenant:" + botID
}

// CheckInbound enforces the global and per-tenant windows for one inbound
// event. A throttled outcome is returned as an AppError so no further
// processing happens.
func (s *Service) CheckInbound(ctx context.Context, botID string) error {
	if err := s.check(ctx, ScopeGlobal, s.cfg.GlobalMax); err != nil {
		return err
	}
	return s.check(ctx, TenantScope(botID), s.cfg.TenantMax)
}

func (s *Service) check(ctx context.Context, scope string, limit int) error {
	result, err := s.allow(ctx, scope, limit)
	if err != nil {
		// The limiter itself failing must not block traffic.
		s.log.Warn("rate limiter unavailable, allowing event", slog.String("scope", scope), slog.Any("error", err))
		return nil
	}

	if !result.Allowed {
		metrics.RecordRateLimitRejection(scopeKind(scope))
		return apperrors.NewThrottled(scope)
	}

	return nil
}

func (s *Service) allow(ctx context.Context, scope string, limit int) (*Result, error) {
	if s.primary == nil {
		return s.fallback.Allow(ctx, scope, limit, s.cfg.Window)
	}

	var result *Result
	err := s.breaker.Execute(func() error {
		var allowErr error
		result, allowErr = s.primary.Allow(ctx, scope, limit, s.cfg.Window)
		return allowErr
	})
	if err == nil {
		return result, nil
	}

	s.log.Debug("falling back to in-process rate limiter", slog.String("scope", scope), slog.Any("error", err))
	return s.fallback.Allow(ctx, scope, limit, s.cfg.Window)
}

func scopeKind(scope string) string {
	if scope == ScopeGlobal {
		return "global"
	}
	if scope == scopeInvalidTenant {
		return "invalid"
	}
	return "tenant"
}
