package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/internal/integration"
	"github.com/botfleet/webhook-router/internal/pending"
	"github.com/botfleet/webhook-router/internal/provider"
	"github.com/botfleet/webhook-router/internal/schema"
)

// render produces the single outbound message for a state. Precedence is
// strict so a state with several optional fields has one deterministic
// layout: media group, single media, contact request, email request, inline
// buttons, plain text.
func (e *Engine) render(ctx context.Context, bot *domain.Bot, def *schema.DialogueDefinition, key string, st schema.State, ev inboundEvent, first bool, wg *sync.WaitGroup) error {
	opts := &telebot.SendOptions{ParseMode: telebot.ParseMode(st.ParseMode)}

	var err error
	switch {
	case len(st.MediaGroup) > 0:
		_, err = e.sender.SendAlbum(ctx, bot.Token, ev.chatID, st.MediaGroup, st.Message)

	case st.Media != nil:
		_, err = e.sender.SendMedia(ctx, bot.Token, ev.chatID, *st.Media, st.Message, opts)

	case st.ContactRequest() != nil:
		opts.ReplyMarkup = provider.ContactRequestMarkup(st.ContactRequest().Label)
		_, err = e.sender.SendText(ctx, bot.Token, ev.chatID, st.Message, opts)

	case st.EmailRequest() != nil:
		opts.ReplyMarkup = provider.RemoveKeyboard()
		_, err = e.sender.SendText(ctx, bot.Token, ev.chatID, st.Message, opts)

	default:
		if markup := provider.InlineMarkup(st.Buttons); markup != nil {
			opts.ReplyMarkup = markup
		}
		_, err = e.sender.SendText(ctx, bot.Token, ev.chatID, st.Message, opts)
	}
	if err != nil {
		return fmt.Errorf("render state %s: %w", key, err)
	}

	e.armPending(ctx, bot.ID, key, st, ev)
	e.fireStateEffects(bot, key, st, ev, wg)
	return nil
}

// armPending records the collection flow a just-rendered state requests, so
// the user's next message is interpreted as the requested payload.
func (e *Engine) armPending(ctx context.Context, botID, key string, st schema.State, ev inboundEvent) {
	var kind pending.Kind
	var target string
	if btn := st.ContactRequest(); btn != nil {
		kind, target = pending.KindContact, btn.Target
	} else if btn := st.EmailRequest(); btn != nil {
		kind, target = pending.KindEmail, btn.Target
	} else {
		return
	}

	rec := pending.Record{
		Kind:        kind,
		TargetState: target,
		OriginState: key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.pending.Set(ctx, botID, ev.userID, rec); err != nil {
		e.log.Error("pending arm failed", "bot_id", botID, "user_id", ev.userID, "kind", kind, "error", err)
	}
}

// fireStateEffects dispatches the state's configured webhook and provider
// integration. Detached: a failing endpoint never affects the response.
func (e *Engine) fireStateEffects(bot *domain.Bot, key string, st schema.State, ev inboundEvent, wg *sync.WaitGroup) {
	if st.Webhook != nil {
		hook := *st.Webhook
		event := integration.Event{
			BotID:      bot.ID,
			UserID:     ev.userID,
			StateKey:   key,
			FirstName:  ev.firstName,
			Username:   ev.username,
			OccurredAt: time.Now().UTC(),
		}
		e.dispatch(wg, "webhook", func(sctx context.Context) error {
			_, err := e.webhooks.Post(sctx, hook.URL, hook.Headers, event)
			return err
		})
	}

	if st.Integration != nil && st.Integration.Kind == schema.IntegrationForward && ev.text != "" {
		dest := st.Integration.ChatID
		note := fmt.Sprintf("From %s (%d):\n%s", displayName(ev), ev.userID, ev.text)
		e.dispatch(wg, "forward", func(sctx context.Context) error {
			_, err := e.sender.SendText(sctx, bot.Token, dest, note, &telebot.SendOptions{})
			return err
		})
	}
}

func displayName(ev inboundEvent) string {
	if ev.username != "" {
		return "@" + ev.username
	}
	if ev.firstName != "" {
		return ev.firstName
	}
	return "user"
}
