package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/domain"
	apperrors "github.com/botfleet/webhook-router/internal/errors"
	"github.com/botfleet/webhook-router/internal/health"
	"github.com/botfleet/webhook-router/internal/integration"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

type ackBody struct {
	OK bool `json:"ok"`
}

// handleWebhook is the public inbound path. The provider treats any non-200
// as an invitation to retry, so internal failures still answer 200 with an
// ok:false body; only caller-side problems get real error statuses.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	botID := chi.URLParam(r, "botID")

	// The limiter runs before identifier validation: malformed ids are
	// accounted against a dedicated bucket so they cannot starve a real
	// tenant's capacity.
	if err := s.limiter.CheckInbound(r.Context(), botID); err != nil {
		if apperrors.KindOf(err) == apperrors.KindThrottled {
			s.finishWebhook(w, http.StatusTooManyRequests, "throttled", start)
			return
		}
		s.log.Error("rate limit check failed", "bot_id", botID, "error", err)
	}

	if _, err := uuid.Parse(botID); err != nil || len(botID) != 36 {
		s.finishWebhook(w, http.StatusBadRequest, "malformed_id", start)
		return
	}

	bot, err := s.lookupBot(r.Context(), botID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotFound:
			s.finishWebhook(w, http.StatusNotFound, "unknown_bot", start)
		default:
			// Store outage. Acknowledge so the provider does not retry into
			// a dead backend.
			s.log.Error("bot lookup failed", "bot_id", botID, "error", err)
			s.ackDegraded(w, start)
		}
		return
	}

	secret := r.Header.Get(secretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(bot.WebhookSecret)) != 1 {
		s.finishWebhook(w, http.StatusUnauthorized, "bad_secret", start)
		return
	}

	var upd telebot.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.finishWebhook(w, http.StatusRequestEntityTooLarge, "oversized_body", start)
			return
		}
		s.finishWebhook(w, http.StatusBadRequest, "malformed_body", start)
		return
	}

	ctx := r.Context()
	if s.cfg.RequestBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestBudget)
		defer cancel()
	}

	if err := s.engine.HandleUpdate(ctx, bot, upd); err != nil {
		s.log.Error("update handling failed",
			"bot_id", botID, "update_id", upd.ID,
			"kind", apperrors.KindOf(err), "error", err)
		metrics.RecordError(string(apperrors.KindOf(err)), string(apperrors.SeverityOf(err)))
		s.ackDegraded(w, start)
		return
	}

	s.writeJSON(w, http.StatusOK, ackBody{OK: true})
	metrics.RecordWebhook("ok", time.Since(start))
}

func (s *Server) lookupBot(ctx context.Context, botID string) (*domain.Bot, error) {
	var bot *domain.Bot
	err := s.pgBreaker.Execute(func() error {
		var lookupErr error
		bot, lookupErr = s.bots.GetByID(ctx, botID)
		return lookupErr
	})
	return bot, err
}

func (s *Server) finishWebhook(w http.ResponseWriter, status int, outcome string, start time.Time) {
	s.writeJSON(w, status, ackBody{OK: false})
	metrics.RecordWebhook(outcome, time.Since(start))
}

func (s *Server) ackDegraded(w http.ResponseWriter, start time.Time) {
	s.writeJSON(w, http.StatusOK, ackBody{OK: false})
	metrics.RecordWebhook("degraded", time.Since(start))
}

// handleBroadcastRun triggers one bounded delivery run. The run continues
// past this request's lifetime, so it detaches from the request context.
func (s *Server) handleBroadcastRun(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "broadcastID")
	if _, err := uuid.Parse(broadcastID); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed broadcast id")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.runner.Run(ctx, broadcastID); err != nil {
			s.log.Error("broadcast run failed", "broadcast_id", broadcastID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

type testSendRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	BotID   string            `json:"bot_id,omitempty"`
}

type testSendResponse struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// handleTestSend fires one outbound webhook call and reports the raw answer.
// Nothing is persisted; this exists so a tenant can verify their endpoint.
func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	var req testSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	res, err := s.testSend.Post(r.Context(), req.URL, req.Headers, integration.Event{
		BotID:      req.BotID,
		StateKey:   "test",
		OccurredAt: time.Now().UTC(),
	})
	if err != nil && res.StatusCode == 0 {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, testSendResponse{StatusCode: res.StatusCode, Body: res.Body})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
