// Package engine interprets a tenant's dialogue against inbound provider
// updates: one state read, at most one state write, one render per event.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/dedup"
	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/internal/integration"
	"github.com/botfleet/webhook-router/internal/pending"
	"github.com/botfleet/webhook-router/internal/provider"
	"github.com/botfleet/webhook-router/internal/schema"
	"github.com/botfleet/webhook-router/internal/schemacache"
	"github.com/botfleet/webhook-router/internal/userstate"
	"github.com/botfleet/webhook-router/pkg/metrics"
)

// SkipCommand lets a user decline an email-collection prompt.
const SkipCommand = "/skip"

// sessionExpiredNotice answers a button press whose target no longer exists
// in the (possibly re-published) definition.
const sessionExpiredNotice = "This menu has expired. Send any message to start over."

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// DefinitionSource supplies decoded dialogue definitions.
type DefinitionSource interface {
	Get(ctx context.Context, botID string) (*schema.DialogueDefinition, int64, error)
}

// Sender is the outbound provider surface the engine renders through.
type Sender interface {
	SendText(ctx context.Context, token string, chatID int64, text string, opts *telebot.SendOptions) (provider.SendResult, error)
	SendMedia(ctx context.Context, token string, chatID int64, m schema.Media, caption string, opts *telebot.SendOptions) (provider.SendResult, error)
	SendAlbum(ctx context.Context, token string, chatID int64, group []schema.Media, caption string) (provider.SendResult, error)
	AnswerCallback(ctx context.Context, token, callbackID, text string) error
}

// WebhookDispatcher posts state side-effect events to tenant endpoints.
type WebhookDispatcher interface {
	Post(ctx context.Context, url string, headers map[string]string, ev integration.Event) (integration.Result, error)
}

// ProfileStore persists end-user profiles.
type ProfileStore interface {
	Upsert(ctx context.Context, p domain.UserProfile) error
	SetPhone(ctx context.Context, botID string, userID int64, phone string) error
	SetEmail(ctx context.Context, botID string, userID int64, email string) error
}

// AnalyticsSink appends events best-effort.
type AnalyticsSink interface {
	Append(ctx context.Context, ev domain.AnalyticsEvent) error
}

// ClickStore attributes broadcast deep-link clicks.
type ClickStore interface {
	MarkClicked(ctx context.Context, broadcastID string, recipientID int64) (bool, error)
}

// Config tunes engine behavior per deployment.
type Config struct {
	// SideEffectWait, when positive, blocks the handler until detached side
	// effects finish or the wait elapses. Serverless hosts freeze the
	// instance as soon as the response is written, so fire-and-forget work
	// needs this grace window there.
	SideEffectWait time.Duration
	// SideEffectTimeout bounds each individual side-effect call.
	SideEffectTimeout time.Duration
}

// Engine executes one dialogue transition per inbound update.
type Engine struct {
	defs      DefinitionSource
	states    userstate.Store
	pending   pending.Tracker
	dedup     dedup.Marker
	sender    Sender
	webhooks  WebhookDispatcher
	profiles  ProfileStore
	analytics AnalyticsSink
	clicks    ClickStore
	log       *slog.Logger
	cfg       Config

	effectErrs chan effectFailure
}

func New(
	defs DefinitionSource,
	states userstate.Store,
	tracker pending.Tracker,
	marker dedup.Marker,
	sender Sender,
	webhooks WebhookDispatcher,
	profiles ProfileStore,
	analytics AnalyticsSink,
	clicks ClickStore,
	cfg Config,
	log *slog.Logger,
) *Engine {
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 10 * time.Second
	}
	e := &Engine{
		defs:       defs,
		states:     states,
		pending:    tracker,
		dedup:      marker,
		sender:     sender,
		webhooks:   webhooks,
		profiles:   profiles,
		analytics:  analytics,
		clicks:     clicks,
		log:        log,
		cfg:        cfg,
		effectErrs: make(chan effectFailure, 64),
	}
	go e.drainEffectErrs()
	return e
}

// HandleUpdate executes one transition. The returned error is diagnostic
// only; the HTTP layer answers 200 regardless so the provider never retries.
func (e *Engine) HandleUpdate(ctx context.Context, bot *domain.Bot, upd telebot.Update) error {
	ev, ok := classify(upd)
	if !ok {
		// Edits, channel posts and other variants the dialogue model does
		// not cover are acknowledged and dropped.
		return nil
	}

	// First-sighting gate for side-effect accounting. The render path below
	// re-executes on redelivery; accounting must not.
	first, err := e.dedup.MarkOnce(ctx, bot.ID, ev.updateID)
	if err != nil {
		e.log.Warn("dedup marker unavailable, treating update as replay",
			"bot_id", bot.ID, "update_id", ev.updateID, "error", err)
	}

	var wg sync.WaitGroup
	defer e.waitEffects(&wg)

	e.dispatch(&wg, "profile_upsert", func(sctx context.Context) error {
		return e.profiles.Upsert(sctx, profileOf(bot.ID, ev))
	})

	def, _, err := e.defs.Get(ctx, bot.ID)
	if err != nil {
		if errors.Is(err, schemacache.ErrNoDefinition) {
			e.log.Info("update for bot without published dialogue", "bot_id", bot.ID)
			return nil
		}
		return err
	}

	if ev.callbackID != "" {
		return e.handleCallback(ctx, bot, def, ev, first, &wg)
	}
	return e.handleMessage(ctx, bot, def, ev, first, &wg)
}

// handleCallback advances the user along a pressed navigation button.
func (e *Engine) handleCallback(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, ev inboundEvent, first bool, wg *sync.WaitGroup) error {
	target := ev.callbackData
	st, exists := def.States[target]
	if !exists {
		// Stale keyboard from an older definition. No state write.
		if err := e.sender.AnswerCallback(ctx, bot.Token, ev.callbackID, sessionExpiredNotice); err != nil {
			e.log.Warn("session expired answer failed", "bot_id", bot.ID, "error", err)
		}
		metrics.RecordTransition("expired_button")
		return nil
	}

	if err := e.sender.AnswerCallback(ctx, bot.Token, ev.callbackID, ""); err != nil {
		e.log.Warn("callback ack failed", "bot_id", bot.ID, "error", err)
	}

	if err := e.states.Set(ctx, bot.ID, ev.userID, target); err != nil {
		e.log.Error("user state write failed", "bot_id", bot.ID, "user_id", ev.userID, "error", err)
	}
	metrics.RecordTransition("button")
	if first {
		e.appendEvent(wg, bot.ID, ev.userID, domain.EventButtonClick, target, "")
	}
	return e.render(ctx, bot, def, target, st, ev, first, wg)
}

// handleMessage routes free text and contact payloads: deep-link start,
// pending-input interception, then the normal state-machine path.
func (e *Engine) handleMessage(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, ev inboundEvent, first bool, wg *sync.WaitGroup) error {
	if broadcastID, ok := startPayload(ev.text); ok {
		if first && broadcastID != "" {
			e.attributeClick(wg, bot.ID, broadcastID, ev.userID)
		}
		return e.enterState(ctx, bot, def, def.InitialState, ev, first, wg, "start")
	}

	if rec, err := e.pending.Get(ctx, bot.ID, ev.userID); err == nil {
		if done, handleErr := e.handlePending(ctx, bot, def, rec, ev, first, wg); done {
			return handleErr
		}
	} else if !errors.Is(err, pending.ErrNotFound) {
		e.log.Warn("pending lookup failed", "bot_id", bot.ID, "user_id", ev.userID, "error", err)
	}

	current, err := e.states.Get(ctx, bot.ID, ev.userID)
	if err != nil && !errors.Is(err, userstate.ErrNotFound) {
		e.log.Warn("user state read failed, treating user as fresh",
			"bot_id", bot.ID, "user_id", ev.userID, "error", err)
	}
	if _, exists := def.States[current]; current == "" || !exists {
		// Fresh user, or the definition dropped the remembered state.
		return e.enterState(ctx, bot, def, def.InitialState, ev, first, wg, "reset")
	}

	// Same state, same render. Repeated identical inbound events are safe.
	metrics.RecordTransition("rerender")
	return e.render(ctx, bot, def, current, def.States[current], ev, first, wg)
}

// handlePending tries to consume an armed collection flow. It reports done
// when the event resolved the flow; a non-matching event leaves the entry
// armed and falls back to the normal path.
func (e *Engine) handlePending(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, rec *pending.Record, ev inboundEvent, first bool, wg *sync.WaitGroup) (bool, error) {
	switch rec.Kind {
	case pending.KindContact:
		if ev.contact == nil {
			return false, nil
		}
		if ev.contact.UserID != ev.userID {
			e.log.Warn("contact payload from a different user rejected",
				"bot_id", bot.ID, "user_id", ev.userID, "contact_user_id", ev.contact.UserID)
			return false, nil
		}
		if err := e.pending.Clear(ctx, bot.ID, ev.userID); err != nil {
			e.log.Warn("pending clear failed", "bot_id", bot.ID, "user_id", ev.userID, "error", err)
		}
		phone := ev.contact.PhoneNumber
		e.dispatch(wg, "profile_phone", func(sctx context.Context) error {
			return e.profiles.SetPhone(sctx, bot.ID, ev.userID, phone)
		})
		if first {
			e.appendEvent(wg, bot.ID, ev.userID, domain.EventContactShared, rec.OriginState, "")
		}
		metrics.RecordTransition("contact_collected")
		return true, e.advance(ctx, bot, def, rec.TargetState, ev, first, wg)

	case pending.KindEmail:
		text := strings.TrimSpace(ev.text)
		skipped := text == SkipCommand
		if !skipped && !emailShape.MatchString(text) {
			return false, nil
		}
		if err := e.pending.Clear(ctx, bot.ID, ev.userID); err != nil {
			e.log.Warn("pending clear failed", "bot_id", bot.ID, "user_id", ev.userID, "error", err)
		}
		if !skipped {
			e.dispatch(wg, "profile_email", func(sctx context.Context) error {
				return e.profiles.SetEmail(sctx, bot.ID, ev.userID, text)
			})
			if first {
				e.appendEvent(wg, bot.ID, ev.userID, domain.EventEmailCollected, rec.OriginState, "")
			}
		}
		metrics.RecordTransition("email_collected")
		return true, e.advance(ctx, bot, def, rec.TargetState, ev, first, wg)
	}
	return false, nil
}

// advance moves to target, falling back to the initial state when a
// re-published definition removed it mid-flow.
func (e *Engine) advance(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, target string, ev inboundEvent, first bool, wg *sync.WaitGroup) error {
	if _, exists := def.States[target]; !exists {
		target = def.InitialState
	}
	return e.enterState(ctx, bot, def, target, ev, first, wg, "advance")
}

func (e *Engine) enterState(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, key string, ev inboundEvent, first bool, wg *sync.WaitGroup, trigger string) error {
	if err := e.states.Set(ctx, bot.ID, ev.userID, key); err != nil {
		e.log.Error("user state write failed", "bot_id", bot.ID, "user_id", ev.userID, "error", err)
	}
	metrics.RecordTransition(trigger)
	if first {
		e.appendEvent(wg, bot.ID, ev.userID, domain.EventStateEnter, key, "")
	}
	return e.render(ctx, bot, def, key, def.States[key], ev, first, wg)
}

func (e *Engine) attributeClick(wg *sync.WaitGroup, botID, broadcastID string, userID int64) {
	e.dispatch(wg, "broadcast_click", func(sctx context.Context) error {
		changed, err := e.clicks.MarkClicked(sctx, broadcastID, userID)
		if err != nil {
			return err
		}
		if changed {
			e.appendEventNow(sctx, botID, userID, domain.EventBroadcastClick, "", broadcastID)
		}
		return nil
	})
}

// startPayload recognizes "/start" and its deep-link form
// "/start bc_<broadcastID>".
func startPayload(text string) (broadcastID string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "/start" {
		return "", true
	}
	const prefix = "/start bc_"
	if strings.HasPrefix(text, prefix) && len(text) > len(prefix) {
		return text[len(prefix):], true
	}
	return "", false
}

// inboundEvent is the engine's normalized view of a provider update.
type inboundEvent struct {
	updateID     int64
	userID       int64
	chatID       int64
	text         string
	contact      *telebot.Contact
	callbackID   string
	callbackData string
	firstName    string
	lastName     string
	username     string
}

// classify extracts the variants the dialogue model covers: plain messages
// and callback queries.
func classify(upd telebot.Update) (inboundEvent, bool) {
	switch {
	case upd.Callback != nil && upd.Callback.Sender != nil:
		ev := inboundEvent{
			updateID:     int64(upd.ID),
			userID:       upd.Callback.Sender.ID,
			chatID:       upd.Callback.Sender.ID,
			callbackID:   upd.Callback.ID,
			callbackData: strings.TrimPrefix(upd.Callback.Data, "\f"),
			firstName:    upd.Callback.Sender.FirstName,
			lastName:     upd.Callback.Sender.LastName,
			username:     upd.Callback.Sender.Username,
		}
		if upd.Callback.Message != nil && upd.Callback.Message.Chat != nil {
			ev.chatID = upd.Callback.Message.Chat.ID
		}
		return ev, true

	case upd.Message != nil && upd.Message.Sender != nil:
		ev := inboundEvent{
			updateID:  int64(upd.ID),
			userID:    upd.Message.Sender.ID,
			chatID:    upd.Message.Sender.ID,
			text:      upd.Message.Text,
			contact:   upd.Message.Contact,
			firstName: upd.Message.Sender.FirstName,
			lastName:  upd.Message.Sender.LastName,
			username:  upd.Message.Sender.Username,
		}
		if upd.Message.Chat != nil {
			ev.chatID = upd.Message.Chat.ID
		}
		return ev, true
	}
	return inboundEvent{}, false
}

func profileOf(botID string, ev inboundEvent) domain.UserProfile {
	return domain.UserProfile{
		BotID:     botID,
		UserID:    ev.userID,
		FirstName: ev.firstName,
		LastName:  ev.lastName,
		Username:  ev.username,
		LastSeen:  time.Now().UTC(),
	}
}
