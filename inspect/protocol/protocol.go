// Package protocol defines the message vocabulary of the inspection session:
// Commands flow host → agent, Events flow agent → host. Both directions are
// closed sum types carried in a common JSON envelope.
//
// Delivery is fire-and-forget: no acknowledgment, no retry, no ordering
// guarantee across the two contexts. Messages are designed so that repeated
// or reordered SET_MODE / CLEAR_SELECTION deliveries are idempotent.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type discriminators.
const (
	TypeCommand = "COMMAND"
	TypeEvent   = "EVENT"
)

// Version is the protocol version announced in READY events.
const Version = "1"

// MaxSelectorLength bounds any selector carried in a command. Longer
// selectors are rejected by the receiving agent before use.
const MaxSelectorLength = 500

// Session capacity bounds. Exceeding either is a rejected no-op with a
// user-visible notice, never an error.
const (
	MaxSelected       = 10
	MaxUploadedImages = 5
)

// ErrUnknownAction marks an envelope whose action is not in the vocabulary.
// Receivers treat this as a no-op: the two contexts are version-independent
// and an unknown action from a newer peer must not be an error.
var ErrUnknownAction = errors.New("protocol: unknown action")

// ErrBadEnvelope marks a message that does not carry the envelope shape.
var ErrBadEnvelope = errors.New("protocol: malformed envelope")

// Mode is the inspection mode shared (eventually) between host and agent.
// The host's mode is desired state, the agent's is applied state; the two
// converge through SET_MODE commands, never through a merged ground truth.
type Mode string

const (
	ModeInteraction Mode = "interaction"
	ModeInspection  Mode = "inspection"
	ModeEdit        Mode = "edit"
	ModeScreenshot  Mode = "screenshot"
)

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeInteraction, ModeInspection, ModeEdit, ModeScreenshot:
		return true
	}
	return false
}

// envelope is the wire shape shared by both directions.
type envelope struct {
	Type    string          `json:"type"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encode(typ, action string, payload any) ([]byte, error) {
	env := envelope{Type: typ, Action: action}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", action, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte, wantType string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrBadEnvelope
	}
	if env.Type != wantType || env.Action == "" {
		return nil, ErrBadEnvelope
	}
	return &env, nil
}

func decodePayload(env *envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("protocol: %s payload: %w", env.Action, err)
	}
	return nil
}
