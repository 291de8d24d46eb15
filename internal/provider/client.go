// Package provider wraps the chat platform API. The router serves many
// tenants, so clients are built per bot token in offline mode (no getMe
// handshake) over one shared HTTP client with an explicit timeout.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/botfleet/webhook-router/internal/errors"
	"github.com/botfleet/webhook-router/internal/schema"
)

// SendResult carries the provider-assigned id of a delivered message.
type SendResult struct {
	MessageID string
}

// Client is the multi-tenant outbound API client.
type Client struct {
	httpClient *http.Client
	apiURL     string

	mu   sync.Mutex
	bots map[string]*telebot.Bot
}

// New builds the client. apiURL may be empty, in which case the platform's
// default endpoint is used.
func New(apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		bots:       make(map[string]*telebot.Bot),
	}
}

// bot returns the cached per-token instance. Offline settings skip the
// startup handshake, so construction never touches the network.
func (c *Client) bot(token string) (*telebot.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}
	b, err := telebot.NewBot(telebot.Settings{
		URL:     c.apiURL,
		Token:   token,
		Offline: true,
		Client:  c.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}
	c.bots[token] = b
	return b, nil
}

// SendText delivers a plain or formatted text message.
func (c *Client) SendText(ctx context.Context, token string, chatID int64, text string, opts *telebot.SendOptions) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	b, err := c.bot(token)
	if err != nil {
		return SendResult{}, err
	}
	msg, err := b.Send(telebot.ChatID(chatID), text, opts)
	if err != nil {
		return SendResult{}, apperrors.NewProvider("send text", err)
	}
	return SendResult{MessageID: strconv.Itoa(msg.ID)}, nil
}

// SendMedia delivers one photo, video or document with an optional caption.
func (c *Client) SendMedia(ctx context.Context, token string, chatID int64, m schema.Media, caption string, opts *telebot.SendOptions) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	b, err := c.bot(token)
	if err != nil {
		return SendResult{}, err
	}
	msg, err := b.Send(telebot.ChatID(chatID), mediaSendable(m, caption), opts)
	if err != nil {
		return SendResult{}, apperrors.NewProvider("send media", err)
	}
	return SendResult{MessageID: strconv.Itoa(msg.ID)}, nil
}

// SendAlbum delivers a media group. The caption rides on the first item.
func (c *Client) SendAlbum(ctx context.Context, token string, chatID int64, group []schema.Media, caption string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	b, err := c.bot(token)
	if err != nil {
		return SendResult{}, err
	}

	album := make(telebot.Album, 0, len(group))
	for i, m := range group {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		album = append(album, albumItem(m, itemCaption))
	}
	msgs, err := b.SendAlbum(telebot.ChatID(chatID), album)
	if err != nil {
		return SendResult{}, apperrors.NewProvider("send album", err)
	}
	if len(msgs) == 0 {
		return SendResult{}, nil
	}
	return SendResult{MessageID: strconv.Itoa(msgs[0].ID)}, nil
}

// AnswerCallback acknowledges a button press so the client stops showing a
// spinner. The optional text pops up as a toast.
func (c *Client) AnswerCallback(ctx context.Context, token, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := c.bot(token)
	if err != nil {
		return err
	}
	if err := b.Respond(&telebot.Callback{ID: callbackID}, &telebot.CallbackResponse{Text: text}); err != nil {
		return apperrors.NewProvider("answer callback", err)
	}
	return nil
}

func mediaSendable(m schema.Media, caption string) telebot.Sendable {
	switch m.Kind {
	case schema.MediaVideo:
		return &telebot.Video{File: telebot.FromURL(m.URL), Caption: caption}
	case schema.MediaDocument:
		return &telebot.Document{File: telebot.FromURL(m.URL), Caption: caption}
	default:
		return &telebot.Photo{File: telebot.FromURL(m.URL), Caption: caption}
	}
}

func albumItem(m schema.Media, caption string) telebot.Inputtable {
	switch m.Kind {
	case schema.MediaVideo:
		return &telebot.Video{File: telebot.FromURL(m.URL), Caption: caption}
	default:
		return &telebot.Photo{File: telebot.FromURL(m.URL), Caption: caption}
	}
}
