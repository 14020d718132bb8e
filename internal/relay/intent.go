package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIntent is returned for intents that cannot be decoded or
	// miss a required field.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrUnknownIntent is returned for an intent type outside the closed set.
	ErrUnknownIntent = errors.New("unknown intent type")
)

// IntentType is the closed set of client-to-server intents.
type IntentType string

const (
	IntentBroadcast IntentType = "sendBroadcast"
	IntentDirect    IntentType = "sendDirect"
	IntentEvict     IntentType = "adminEvict"
)

// Intent is a decoded client request.
type Intent struct {
	Type   IntentType `json:"type"`
	To     string     `json:"to,omitempty"`
	Target string     `json:"target,omitempty"`
	Body   string     `json:"body,omitempty"`
}

// DecodeIntent parses one JSON intent and checks the fields its type
// requires.
func DecodeIntent(data []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if err := in.Validate(); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Validate checks the intent against the requirements of its type.
func (in Intent) Validate() error {
	switch in.Type {
	case IntentBroadcast:
		if strings.TrimSpace(in.Body) == "" {
			return fmt.Errorf("%w: body is required", ErrInvalidIntent)
		}
	case IntentDirect:
		if strings.TrimSpace(in.To) == "" {
			return fmt.Errorf("%w: recipient is required", ErrInvalidIntent)
		}
		if strings.TrimSpace(in.Body) == "" {
			return fmt.Errorf("%w: body is required", ErrInvalidIntent)
		}
	case IntentEvict:
		if strings.TrimSpace(in.Target) == "" {
			return fmt.Errorf("%w: target is required", ErrInvalidIntent)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidIntent)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
	}
	return nil
}
