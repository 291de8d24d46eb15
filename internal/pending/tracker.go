// Package pending tracks two-step collection flows: a state that asks the
// user for a contact or email records what the next inbound message should be
// interpreted as.
package pending

import (
	"context"
	"errors"
	"time"
)

// TTL bounds how long an unanswered collection request stays armed.
// Unmatched entries are left to expire.
const TTL = 15 * time.Minute

// Kind enumerates what the next inbound message is expected to carry.
type Kind string

const (
	KindContact Kind = "contact"
	KindEmail   Kind = "email"
)

// ErrNotFound indicates no pending input is recorded for the user.
var ErrNotFound = errors.New("no pending input")

// Record captures one armed collection flow.
type Record struct {
	Kind        Kind      `json:"kind"`
	TargetState string    `json:"target_state"`
	OriginState string    `json:"origin_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tracker defines the pending-input contract.
type Tracker interface {
	// Set arms a collection flow for the user, replacing any previous one.
	Set(ctx context.Context, botID string, userID int64, rec Record) error
	// Get returns the armed record or ErrNotFound.
	Get(ctx context.Context, botID string, userID int64) (*Record, error)
	// Clear consumes the armed record. Clearing an absent record is a no-op.
	Clear(ctx context.Context, botID string, userID int64) error
}
