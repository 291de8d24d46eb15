// Package userstate persists the current dialogue state key for each
// (bot, end-user) pair.
package userstate

import (
	"context"
	"errors"
	"time"
)

// TTL is the fixed lifetime of a user state record, refreshed on every write.
const TTL = 30 * 24 * time.Hour

// ErrNotFound indicates that no state is recorded for the user.
var ErrNotFound = errors.New("user state not found")

// Store defines the persistence contract for user dialogue state.
type Store interface {
	// Get returns the current state key or ErrNotFound.
	Get(ctx context.Context, botID string, userID int64) (string, error)
	// Set overwrites the state key and refreshes the TTL.
	Set(ctx context.Context, botID string, userID int64, stateKey string) error
}
