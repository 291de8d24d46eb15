// Package schema models a tenant's declarative dialogue definition: named
// states with messages, buttons, media and outbound integrations.
package schema

import (
	"encoding/json"
	"fmt"
)

// FormatVersion is the dialogue definition format this router executes.
// Definitions carrying any other version are rejected at load time.
const FormatVersion = 1

const (
	// MaxStateKeyLength bounds a state key.
	MaxStateKeyLength = 64
	// MaxMessageLength matches the provider's text message ceiling.
	MaxMessageLength = 4096
	// MaxButtonLabelLength bounds a button label.
	MaxButtonLabelLength = 128
	// MaxButtonsPerState bounds the keyboard size of one state.
	MaxButtonsPerState = 20
	// MaxMediaGroupSize matches the provider's album ceiling.
	MaxMediaGroupSize = 10
)

// ButtonKind discriminates the button union. Each button has exactly one
// behavior.
type ButtonKind string

const (
	ButtonNavigate       ButtonKind = "navigation"
	ButtonURL            ButtonKind = "url"
	ButtonRequestContact ButtonKind = "request_contact"
	ButtonRequestEmail   ButtonKind = "request_email"
)

// Button is one keyboard entry of a state.
type Button struct {
	Kind   ButtonKind `json:"type"`
	Label  string     `json:"text"`
	Target string     `json:"target,omitempty"`
	URL    string     `json:"url,omitempty"`
}

// MediaKind discriminates the media union.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media is a single hosted media item attached to a state.
type Media struct {
	Kind    MediaKind `json:"type"`
	URL     string    `json:"url"`
	Caption string    `json:"caption,omitempty"`
}

// Webhook configures the outbound side-effect call a state fires after
// rendering.
type Webhook struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Integration configures a provider-level side effect. The only supported
// kind forwards the triggering user's message to another chat.
type Integration struct {
	Kind   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// IntegrationForward is the supported Integration kind.
const IntegrationForward = "forward"

// State is one node of the dialogue.
type State struct {
	Message     string       `json:"message"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	Buttons     []Button     `json:"buttons,omitempty"`
	Media       *Media       `json:"media,omitempty"`
	MediaGroup  []Media      `json:"media_group,omitempty"`
	Webhook     *Webhook     `json:"webhook,omitempty"`
	Integration *Integration `json:"integration,omitempty"`
}

// ContactRequest returns the first contact-collection button, if any.
func (s State) ContactRequest() *Button {
	return s.firstButton(ButtonRequestContact)
}

// EmailRequest returns the first email-collection button, if any.
func (s State) EmailRequest() *Button {
	return s.firstButton(ButtonRequestEmail)
}

func (s State) firstButton(kind ButtonKind) *Button {
	for i := range s.Buttons {
		if s.Buttons[i].Kind == kind {
			return &s.Buttons[i]
		}
	}
	return nil
}

// DialogueDefinition is the compiled dialogue for one tenant.
type DialogueDefinition struct {
	Version      int              `json:"version"`
	InitialState string           `json:"initial_state"`
	States       map[string]State `json:"states"`
}

// Parse decodes raw JSON into a definition and validates its invariants.
func Parse(raw []byte) (*DialogueDefinition, error) {
	var def DialogueDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode dialogue definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Encode renders the definition back to JSON for caching.
func (d *DialogueDefinition) Encode() ([]byte, error) {
	return json.Marshal(d)
}
