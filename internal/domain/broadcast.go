package domain

import "time"

// BroadcastStatus enumerates the lifecycle of a bulk-send campaign. The
// progression is monotonic except cancellation and reset-for-retry.
type BroadcastStatus string

const (
	BroadcastDraft      BroadcastStatus = "draft"
	BroadcastScheduled  BroadcastStatus = "scheduled"
	BroadcastProcessing BroadcastStatus = "processing"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastFailed     BroadcastStatus = "failed"
	BroadcastCancelled  BroadcastStatus = "cancelled"
)

// Broadcast is one bulk-send campaign.
type Broadcast struct {
	ID              string
	BotID           string
	Message         string
	ParseMode       string
	MediaURL        string
	MediaKind       string
	Status          BroadcastStatus
	TotalRecipients int64
	SentCount       int64
	FailedCount     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BroadcastMessageStatus enumerates one recipient's delivery state.
type BroadcastMessageStatus string

const (
	BroadcastMessagePending BroadcastMessageStatus = "pending"
	BroadcastMessageSending BroadcastMessageStatus = "sending"
	BroadcastMessageSent    BroadcastMessageStatus = "sent"
	BroadcastMessageFailed  BroadcastMessageStatus = "failed"
)

// BroadcastMessage is one recipient's delivery record within a campaign.
// A row moves pending -> sending -> {sent|failed}; rows stuck in sending past
// the lease are reclaimed back to pending.
type BroadcastMessage struct {
	ID            int64
	BroadcastID   string
	RecipientID   int64
	Status        BroadcastMessageStatus
	ProviderMsgID string
	Error         string
	ClaimedBy     string
	ClaimedAt     *time.Time
	SentAt        *time.Time
	Clicked       bool
}
