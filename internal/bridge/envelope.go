package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smartbox/internal/action"
)

// ErrInvalidEnvelope wraps every reason a raw message is not an envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is one message from the UI.
type Envelope struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Confirmed bool                   `json:"confirmed,omitempty"`
}

// Reply is what goes back to the UI for one envelope.
type Reply struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Action string `json:"action"`
	action.Outcome
}

// EnvelopeValidator checks a raw message before it is decoded.
type EnvelopeValidator interface {
	ValidateEnvelope(ctx context.Context, raw []byte) error
}

// Decode turns a raw message into an Envelope. Numbers in data are kept as
// float64, matching what a browser sends.
func Decode(ctx context.Context, raw []byte, v EnvelopeValidator) (Envelope, error) {
	if v != nil {
		if err := v.ValidateEnvelope(ctx, raw); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: type is required", ErrInvalidEnvelope)
	}
	for k, val := range env.Data {
		switch val.(type) {
		case nil, string, bool, float64:
		default:
			return Envelope{}, fmt.Errorf("%w: data.%s is not a scalar", ErrInvalidEnvelope, k)
		}
	}
	return env, nil
}
