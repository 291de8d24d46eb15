// Package domain holds the records shared between the router, the broadcast
// pipeline and the tenant-management collaborator.
package domain

import "time"

// Bot is one tenant's configured chat-bot. The router only reads it; writes
// belong to the tenant-management collaborator.
type Bot struct {
	ID            string
	Token         string
	WebhookSecret string
	// Definition is the raw dialogue definition JSON; nil until the tenant
	// publishes one.
	Definition []byte
	// DefinitionVersion increments on every definition edit and tags cache
	// entries so a writer can force a fresh read.
	DefinitionVersion int64
	UpdatedAt         time.Time
}

// HasDefinition reports whether the tenant published a dialogue.
func (b *Bot) HasDefinition() bool {
	return b != nil && len(b.Definition) > 0
}
