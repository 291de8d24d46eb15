// Package broadcast drains a campaign's pre-materialized recipient queue in
// bounded runs: batches are claimed atomically, sent sequentially under the
// provider's throughput ceiling, and abandoned leases are reclaimed so a
// crashed run never strands work.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"
	"golang.org/x/time/rate"

	"github.com/oklog/ulid/v2"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/internal/provider"
	"github.com/botfleet/webhook-router/internal/schema"
	"github.com/botfleet/webhook-router/pkg/config"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

// CampaignStore manages broadcast rows.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Broadcast, error)
	MarkProcessing(ctx context.Context, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	IncrementCounters(ctx context.Context, id string, sent, failed int64) error
}

// MessageStore manages per-recipient delivery rows.
type MessageStore interface {
	Claim(ctx context.Context, broadcastID, runID string, limit int, now time.Time) ([]domain.BroadcastMessage, error)
	ReclaimStale(ctx context.Context, broadcastID, runID string, lease time.Duration, now time.Time) (int64, error)
	MarkSent(ctx context.Context, id int64, providerMsgID string, now time.Time) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	Counts(ctx context.Context, broadcastID string) (pending, sending int64, err error)
}

// BotSource resolves the sending bot's credential.
type BotSource interface {
	GetByID(ctx context.Context, botID string) (*domain.Bot, error)
}

// Sender is the outbound provider surface the runner delivers through.
type Sender interface {
	SendText(ctx context.Context, token string, chatID int64, text string, opts *telebot.SendOptions) (provider.SendResult, error)
	SendMedia(ctx context.Context, token string, chatID int64, m schema.Media, caption string, opts *telebot.SendOptions) (provider.SendResult, error)
}

// Runner executes one bounded unit of broadcast work per trigger.
type Runner struct {
	campaigns CampaignStore
	messages  MessageStore
	bots      BotSource
	sender    Sender
	pgBreaker *breaker.Breaker
	cfg       config.BroadcastConfig
	log       *slog.Logger

	now func() time.Time
}

func NewRunner(campaigns CampaignStore, messages MessageStore, bots BotSource, sender Sender, pgBreaker *breaker.Breaker, cfg config.BroadcastConfig, log *slog.Logger) *Runner {
	return &Runner{
		campaigns: campaigns,
		messages:  messages,
		bots:      bots,
		sender:    sender,
		pgBreaker: pgBreaker,
		cfg:       cfg.Normalized(),
		log:       log,
		now:       time.Now,
	}
}

// Run drains up to the run's budget and returns. Work left over is picked up
// by the next trigger; a claim that comes back empty with nothing in flight
// marks the campaign completed.
func (r *Runner) Run(ctx context.Context, broadcastID string) error {
	runID := ulid.Make().String()
	log := r.log.With("broadcast_id", broadcastID, "run_id", runID)
	deadline := r.now().Add(r.cfg.MaxRunDuration)

	bc, err := r.getCampaign(ctx, broadcastID)
	if err != nil {
		return err
	}
	switch bc.Status {
	case domain.BroadcastScheduled, domain.BroadcastProcessing:
	default:
		log.Info("broadcast not runnable", "status", bc.Status)
		return nil
	}

	started, err := r.markProcessing(ctx, broadcastID)
	if err != nil {
		return err
	}
	if !started {
		log.Info("broadcast no longer runnable")
		return nil
	}

	bot, err := r.getBot(ctx, bc.BotID)
	if err != nil {
		return err
	}

	// One shared pacer for the whole run keeps the send rate under the
	// provider ceiling regardless of batch boundaries.
	pacer := rate.NewLimiter(rate.Limit(r.cfg.MessagesPerSecond), 1)

	if n := r.reclaimStale(ctx, broadcastID, runID); n > 0 {
		log.Info("reclaimed stale deliveries", "count", n)
	}

	processed := 0
	for {
		if ctx.Err() != nil {
			log.Info("run interrupted", "processed", processed)
			return ctx.Err()
		}
		if processed >= r.cfg.MaxMessagesPerRun || r.now().After(deadline) {
			log.Info("run budget exhausted", "processed", processed)
			return nil
		}

		// An operator can cancel at any moment; stop claiming new work as
		// soon as that happens. The batch already in flight has finished.
		current, err := r.getCampaign(ctx, broadcastID)
		if err != nil {
			return err
		}
		if current.Status == domain.BroadcastCancelled {
			log.Info("broadcast cancelled, stopping", "processed", processed)
			return nil
		}

		batch, err := r.claim(ctx, broadcastID, runID)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return r.finishIfDrained(ctx, broadcastID, log)
		}

		sent, failed := r.sendBatch(ctx, bot, bc, batch, pacer, log)
		processed += len(batch)
		if err := r.incrementCounters(ctx, broadcastID, sent, failed); err != nil {
			log.Error("counter update failed", "error", err)
		}
	}
}

// sendBatch delivers claimed rows sequentially. Parallel sends would burst
// past the provider ceiling, so ordering is deliberate here.
func (r *Runner) sendBatch(ctx context.Context, bot *domain.Bot, bc *domain.Broadcast, batch []domain.BroadcastMessage, pacer *rate.Limiter, log *slog.Logger) (sent, failed int64) {
	for _, msg := range batch {
		if err := pacer.Wait(ctx); err != nil {
			// Context gone; the rows stay in sending and the lease
			// reclaimer hands them to a future run.
			log.Warn("pacing interrupted", "error", err)
			return sent, failed
		}

		res, err := r.deliver(ctx, bot.Token, bc, msg.RecipientID)
		if err != nil {
			failed++
			metrics.RecordBroadcastMessage("failed")
			if markErr := r.messages.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				log.Error("failed-mark write failed", "message_id", msg.ID, "error", markErr)
			}
			continue
		}

		sent++
		metrics.RecordBroadcastMessage("sent")
		if markErr := r.messages.MarkSent(ctx, msg.ID, res.MessageID, r.now()); markErr != nil {
			log.Error("sent-mark write failed", "message_id", msg.ID, "error", markErr)
		}
	}
	return sent, failed
}

func (r *Runner) deliver(ctx context.Context, token string, bc *domain.Broadcast, recipientID int64) (provider.SendResult, error) {
	opts := &telebot.SendOptions{ParseMode: telebot.ParseMode(bc.ParseMode)}
	if bc.MediaURL != "" {
		media := schema.Media{Kind: schema.MediaKind(bc.MediaKind), URL: bc.MediaURL}
		return r.sender.SendMedia(ctx, token, recipientID, media, bc.Message, opts)
	}
	return r.sender.SendText(ctx, token, recipientID, bc.Message, opts)
}

// finishIfDrained marks the campaign completed once nothing is pending or
// in flight. Rows still in sending belong to another live run.
func (r *Runner) finishIfDrained(ctx context.Context, broadcastID string, log *slog.Logger) error {
	var pending, sending int64
	err := r.pgBreaker.Execute(func() error {
		var cErr error
		pending, sending, cErr = r.messages.Counts(ctx, broadcastID)
		return cErr
	})
	if err != nil {
		return err
	}
	if pending == 0 && sending == 0 {
		if err := r.markCompleted(ctx, broadcastID); err != nil {
			return err
		}
		log.Info("broadcast completed")
	}
	return nil
}

func (r *Runner) getCampaign(ctx context.Context, id string) (*domain.Broadcast, error) {
	var bc *domain.Broadcast
	err := r.pgBreaker.Execute(func() error {
		var gErr error
		bc, gErr = r.campaigns.Get(ctx, id)
		return gErr
	})
	if err != nil {
		return nil, fmt.Errorf("load broadcast %s: %w", id, err)
	}
	return bc, nil
}

func (r *Runner) getBot(ctx context.Context, botID string) (*domain.Bot, error) {
	var bot *domain.Bot
	err := r.pgBreaker.Execute(func() error {
		var gErr error
		bot, gErr = r.bots.GetByID(ctx, botID)
		return gErr
	})
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}
	return bot, nil
}

func (r *Runner) markProcessing(ctx context.Context, id string) (bool, error) {
	var started bool
	err := r.pgBreaker.Execute(func() error {
		var mErr error
		started, mErr = r.campaigns.MarkProcessing(ctx, id, r.now())
		return mErr
	})
	return started, err
}

func (r *Runner) markCompleted(ctx context.Context, id string) error {
	return r.pgBreaker.Execute(func() error {
		return r.campaigns.MarkCompleted(ctx, id, r.now())
	})
}

func (r *Runner) claim(ctx context.Context, broadcastID, runID string) ([]domain.BroadcastMessage, error) {
	var batch []domain.BroadcastMessage
	err := r.pgBreaker.Execute(func() error {
		var cErr error
		batch, cErr = r.messages.Claim(ctx, broadcastID, runID, r.cfg.BatchSize, r.now())
		return cErr
	})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return batch, nil
}

func (r *Runner) reclaimStale(ctx context.Context, broadcastID, runID string) int64 {
	var n int64
	err := r.pgBreaker.Execute(func() error {
		var rErr error
		n, rErr = r.messages.ReclaimStale(ctx, broadcastID, runID, r.cfg.Lease, r.now())
		return rErr
	})
	if err != nil {
		r.log.Warn("stale reclaim failed", "broadcast_id", broadcastID, "error", err)
		return 0
	}
	metrics.RecordBroadcastReclaim(int(n))
	return n
}

func (r *Runner) incrementCounters(ctx context.Context, id string, sent, failed int64) error {
	return r.pgBreaker.Execute(func() error {
		return r.campaigns.IncrementCounters(ctx, id, sent, failed)
	})
}
