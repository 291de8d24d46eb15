// Package integration delivers outbound side-effect calls to tenant-owned
// endpoints. Deliveries are fire-and-forget from the dialogue's point of
// view: a failing endpoint never affects the inbound response.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 64 << 10

// Event is the JSON payload posted to a tenant endpoint when a dialogue
// state fires its webhook.
type Event struct {
	BotID      string    `json:"bot_id"`
	UserID     int64     `json:"user_id"`
	StateKey   string    `json:"state_key"`
	FirstName  string    `json:"first_name,omitempty"`
	Username   string    `json:"username,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Result reports what the endpoint answered, for the diagnostic test-send.
type Result struct {
	StatusCode int
	Body       string
}

// Dispatcher posts events to arbitrary tenant URLs over one shared client.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Post sends the event as JSON with the configured headers and returns the
// endpoint's status and truncated body. Non-2xx statuses are an error; the
// result is still returned so callers can surface the detail.
func (d *Dispatcher) Post(ctx context.Context, url string, headers map[string]string, ev Event) (Result, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	res := Result{StatusCode: resp.StatusCode, Body: string(body)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return res, nil
}
