package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *DialogueDefinition {
	return &DialogueDefinition{
		Version:      FormatVersion,
		InitialState: "start",
		States: map[string]State{
			"start": {
				Message: "Welcome!",
				Buttons: []Button{
					{Kind: ButtonNavigate, Label: "Pricing", Target: "pricing"},
					{Kind: ButtonURL, Label: "Site", URL: "https://example.com"},
				},
			},
			"pricing": {
				Message: "Our plans",
				Buttons: []Button{
					{Kind: ButtonRequestContact, Label: "Leave a phone", Target: "thanks"},
					{Kind: ButtonNavigate, Label: "Back", Target: "start"},
				},
			},
			"thanks": {Message: "Thank you"},
		},
	}
}

func TestValidate_AcceptsWellFormedDefinition(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(def *DialogueDefinition)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(def *DialogueDefinition) { def.Version = 99 },
			wantErr: "unsupported definition version",
		},
		{
			name:    "missing initial state",
			mutate:  func(def *DialogueDefinition) { def.InitialState = "nope" },
			wantErr: "does not exist",
		},
		{
			name:    "empty initial state",
			mutate:  func(def *DialogueDefinition) { def.InitialState = "" },
			wantErr: "initial state is empty",
		},
		{
			name:    "no states",
			mutate:  func(def *DialogueDefinition) { def.States = nil },
			wantErr: "no states",
		},
		{
			name: "button targets unknown state",
			mutate: func(def *DialogueDefinition) {
				st := def.States["start"]
				st.Buttons = []Button{{Kind: ButtonNavigate, Label: "Ghost", Target: "missing"}}
				def.States["start"] = st
			},
			wantErr: "unknown state",
		},
		{
			name: "button with two behaviors",
			mutate: func(def *DialogueDefinition) {
				st := def.States["start"]
				st.Buttons = []Button{{Kind: ButtonNavigate, Label: "Both", Target: "pricing", URL: "https://x"}}
				def.States["start"] = st
			},
			wantErr: "must not carry a url",
		},
		{
			name: "unknown button kind",
			mutate: func(def *DialogueDefinition) {
				st := def.States["start"]
				st.Buttons = []Button{{Kind: "payment", Label: "Pay"}}
				def.States["start"] = st
			},
			wantErr: "unknown type",
		},
		{
			name: "oversized message",
			mutate: func(def *DialogueDefinition) {
				st := def.States["start"]
				st.Message = strings.Repeat("a", MaxMessageLength+1)
				def.States["start"] = st
			},
			wantErr: "message exceeds",
		},
		{
			name: "oversized state key",
			mutate: func(def *DialogueDefinition) {
				def.States[strings.Repeat("k", MaxStateKeyLength+1)] = State{Message: "x"}
			},
			wantErr: "state key",
		},
		{
			name: "empty webhook url",
			mutate: func(def *DialogueDefinition) {
				st := def.States["thanks"]
				st.Webhook = &Webhook{}
				def.States["thanks"] = st
			},
			wantErr: "webhook url is empty",
		},
		{
			name: "unknown integration kind",
			mutate: func(def *DialogueDefinition) {
				st := def.States["thanks"]
				st.Integration = &Integration{Kind: "crm", ChatID: 5}
				def.States["thanks"] = st
			},
			wantErr: "unknown integration kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)

			err := def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	raw, err := validDefinition().Encode()
	require.NoError(t, err)

	def, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "start", def.InitialState)
	assert.Len(t, def.States, 3)
}

func TestParse_PassesThroughUnknownFields(t *testing.T) {
	raw := []byte(`{
		"version": 1,
		"initial_state": "s",
		"some_future_field": {"x": 1},
		"states": {"s": {"message": "hi", "another_unknown": true}}
	}`)

	def, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hi", def.States["s"].Message)
}

func TestStateAccessors(t *testing.T) {
	st := State{Buttons: []Button{
		{Kind: ButtonNavigate, Label: "a", Target: "x"},
		{Kind: ButtonRequestEmail, Label: "b", Target: "y"},
	}}

	assert.Nil(t, st.ContactRequest())
	require.NotNil(t, st.EmailRequest())
	assert.Equal(t, "y", st.EmailRequest().Target)
}

// FuzzParse asserts the construction invariant: whenever Parse accepts a
// definition, the initial state and every button target resolve to existing
// states.
func FuzzParse(f *testing.F) {
	seed, _ := validDefinition().Encode()
	f.Add(seed)
	f.Add([]byte(`{"version":1,"initial_state":"a","states":{"a":{"message":"m"}}}`))
	f.Add([]byte(`{"version":1,"initial_state":"a","states":{"b":{"message":"m"}}}`))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, raw []byte) {
		def, err := Parse(raw)
		if err != nil {
			return
		}

		if _, ok := def.States[def.InitialState]; !ok {
			t.Fatalf("accepted definition with dangling initial state %q", def.InitialState)
		}

		for key, st := range def.States {
			for _, btn := range st.Buttons {
				if btn.Kind == ButtonURL {
					continue
				}
				if _, ok := def.States[btn.Target]; !ok {
					t.Fatalf("accepted state %q with dangling button target %q", key, btn.Target)
				}
			}
		}
	})
}

func TestEncode_StableJSON(t *testing.T) {
	raw, err := validDefinition().Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "states")
}
