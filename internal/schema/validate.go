package schema

import (
	"fmt"
	"strings"
)

// Validate checks the construction invariants: the format version matches,
// the initial state exists, every state and button is well-formed, and every
// button target references an existing state.
func (d *DialogueDefinition) Validate() error {
	if d == nil {
		return fmt.Errorf("dialogue definition is nil")
	}

	if d.Version != FormatVersion {
		return fmt.Errorf("unsupported definition version %d, want %d", d.Version, FormatVersion)
	}

	if len(d.States) == 0 {
		return fmt.Errorf("definition has no states")
	}

	if d.InitialState == "" {
		return fmt.Errorf("initial state is empty")
	}

	if _, ok := d.States[d.InitialState]; !ok {
		return fmt.Errorf("initial state %q does not exist", d.InitialState)
	}

	for key, state := range d.States {
		if err := validateStateKey(key); err != nil {
			return err
		}
		if err := d.validateState(key, state); err != nil {
			return err
		}
	}

	return nil
}

func validateStateKey(key string) error {
	if key == "" {
		return fmt.Errorf("state key is empty")
	}
	if len(key) > MaxStateKeyLength {
		return fmt.Errorf("state key %q exceeds %d characters", truncate(key), MaxStateKeyLength)
	}
	return nil
}

func (d *DialogueDefinition) validateState(key string, state State) error {
	if len(state.Message) > MaxMessageLength {
		return fmt.Errorf("state %q: message exceeds %d characters", key, MaxMessageLength)
	}

	if len(state.Buttons) > MaxButtonsPerState {
		return fmt.Errorf("state %q: more than %d buttons", key, MaxButtonsPerState)
	}

	if len(state.MediaGroup) > MaxMediaGroupSize {
		return fmt.Errorf("state %q: media group exceeds %d items", key, MaxMediaGroupSize)
	}

	if state.Media != nil {
		if err := validateMedia(key, *state.Media); err != nil {
			return err
		}
	}
	for _, item := range state.MediaGroup {
		if err := validateMedia(key, item); err != nil {
			return err
		}
	}

	if state.Webhook != nil && state.Webhook.URL == "" {
		return fmt.Errorf("state %q: webhook url is empty", key)
	}

	if state.Integration != nil {
		if state.Integration.Kind != IntegrationForward {
			return fmt.Errorf("state %q: unknown integration kind %q", key, state.Integration.Kind)
		}
		if state.Integration.ChatID == 0 {
			return fmt.Errorf("state %q: integration chat_id is missing", key)
		}
	}

	for i, btn := range state.Buttons {
		if err := d.validateButton(key, i, btn); err != nil {
			return err
		}
	}

	return nil
}

func (d *DialogueDefinition) validateButton(stateKey string, idx int, btn Button) error {
	if strings.TrimSpace(btn.Label) == "" {
		return fmt.Errorf("state %q: button %d has no label", stateKey, idx)
	}
	if len(btn.Label) > MaxButtonLabelLength {
		return fmt.Errorf("state %q: button %d label exceeds %d characters", stateKey, idx, MaxButtonLabelLength)
	}

	switch btn.Kind {
	case ButtonNavigate, ButtonRequestContact, ButtonRequestEmail:
		if btn.Target == "" {
			return fmt.Errorf("state %q: button %d (%s) has no target", stateKey, idx, btn.Kind)
		}
		if btn.URL != "" {
			return fmt.Errorf("state %q: button %d (%s) must not carry a url", stateKey, idx, btn.Kind)
		}
		if _, ok := d.States[btn.Target]; !ok {
			return fmt.Errorf("state %q: button %d targets unknown state %q", stateKey, idx, btn.Target)
		}
	case ButtonURL:
		if btn.URL == "" {
			return fmt.Errorf("state %q: button %d (url) has no url", stateKey, idx)
		}
		if btn.Target != "" {
			return fmt.Errorf("state %q: button %d (url) must not carry a target", stateKey, idx)
		}
	default:
		return fmt.Errorf("state %q: button %d has unknown type %q", stateKey, idx, btn.Kind)
	}

	return nil
}

func truncate(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}
