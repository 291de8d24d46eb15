package domain

import "time"

// AnalyticsEvent is appended best-effort for the analytics collaborator.
// Append failures are logged and swallowed.
type AnalyticsEvent struct {
	BotID      string
	UserID     int64
	Kind       string
	StateKey   string
	Payload    string
	OccurredAt time.Time
}

// Analytics event kinds recorded by the router.
const (
	EventStateEnter     = "state_enter"
	EventButtonClick    = "button_click"
	EventBroadcastClick = "broadcast_click"
	EventContactShared  = "contact_shared"
	EventEmailCollected = "email_collected"
)
