// Package server is the HTTP surface: the public provider webhook, the
// internal broadcast and diagnostic endpoints, health and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/internal/health"
	"github.com/botfleet/webhook-router/internal/integration"
	"github.com/botfleet/webhook-router/pkg/config"
	"github.com/botfleet/webhook-router/pkg/logger"
)

// secretHeader carries the tenant's webhook verification secret, set when the
// webhook is registered with the provider.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// internalTokenHeader guards the internal-only endpoints.
const internalTokenHeader = "X-Internal-Token"

// BotSource resolves tenant records.
type BotSource interface {
	GetByID(ctx context.Context, botID string) (*domain.Bot, error)
}

// InboundLimiter gates inbound traffic per scope.
type InboundLimiter interface {
	CheckInbound(ctx context.Context, botID string) error
}

// UpdateHandler executes one dialogue transition.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, bot *domain.Bot, upd telebot.Update) error
}

// BroadcastTrigger resumes a campaign's delivery.
type BroadcastTrigger interface {
	Run(ctx context.Context, broadcastID string) error
}

// TestSender dispatches one diagnostic outbound webhook call.
type TestSender interface {
	Post(ctx context.Context, url string, headers map[string]string, ev integration.Event) (integration.Result, error)
}

// Server wires the router's HTTP endpoints.
type Server struct {
	cfg       config.ServerConfig
	log       *slog.Logger
	bots      BotSource
	limiter   InboundLimiter
	engine    UpdateHandler
	runner    BroadcastTrigger
	testSend  TestSender
	checker   *health.Checker
	pgBreaker *breaker.Breaker

	httpServer *http.Server
}

func New(
	cfg config.ServerConfig,
	bots BotSource,
	limiter InboundLimiter,
	engine UpdateHandler,
	runner BroadcastTrigger,
	testSend TestSender,
	checker *health.Checker,
	pgBreaker *breaker.Breaker,
	log *slog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		bots:      bots,
		limiter:   limiter,
		engine:    engine,
		runner:    runner,
		testSend:  testSend,
		checker:   checker,
		pgBreaker: pgBreaker,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.Middleware)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Route("/webhook", func(r chi.Router) {
		r.Use(s.bodyCap)
		r.Post("/{botID}", s.handleWebhook)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/broadcasts/{broadcastID}/run", s.handleBroadcastRun)
		r.Post("/test-send", s.handleTestSend)
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// HTTPServer exposes the underlying server for the graceful wrapper to run.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }
