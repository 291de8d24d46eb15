package domain

import "time"

// UserProfile is the per-(bot, end-user) profile upserted on every inbound
// event and enriched by contact/email collection.
type UserProfile struct {
	BotID     string
	UserID    int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
	Email     string
	LastSeen  time.Time
}
