// Package relay carries platform callbacks from a native shell into the push
// client over Pub/Sub, and platform commands back out.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Kind names the platform callback an Envelope carries.
type Kind string

const (
	KindLaunch             Kind = "launch"
	KindBackground         Kind = "background"
	KindWillPresent        Kind = "will_present"
	KindResponse           Kind = "response"
	KindRegistrationToken  Kind = "registration_token"
	KindDeviceToken        Kind = "device_token"
	KindRegistrationFailed Kind = "registration_failed"
	KindAuthorization      Kind = "authorization"
)

// Envelope is one relayed platform callback. Only the fields relevant to
// Kind are populated.
type Envelope struct {
	Kind     Kind         `json:"kind"`
	Payload  push.Payload `json:"payload,omitempty"`
	ActionID string       `json:"action_id,omitempty"`
	Token    *string      `json:"token,omitempty"` // nil when the platform reported a null token
	DeviceID string       `json:"device_id,omitempty"`
	Granted  bool         `json:"granted,omitempty"`
	Error    string       `json:"error,omitempty"`

	deviceBytes []byte
}

// DeviceBytes returns the decoded device identifier of a device_token envelope.
func (e *Envelope) DeviceBytes() []byte {
	return e.deviceBytes
}

func (e *Envelope) validate() error {
	switch e.Kind {
	case KindLaunch, KindResponse, KindRegistrationToken, KindRegistrationFailed, KindAuthorization:
		return nil
	case KindBackground, KindWillPresent:
		if e.Payload == nil {
			return fmt.Errorf("%s envelope has no payload", e.Kind)
		}
		return nil
	case KindDeviceToken:
		b, err := hex.DecodeString(e.DeviceID)
		if err != nil {
			return fmt.Errorf("device_id is not hex: %w", err)
		}
		if len(b) == 0 {
			return fmt.Errorf("device_token envelope has no device_id")
		}
		e.deviceBytes = b
		return nil
	default:
		return fmt.Errorf("%w: %q", push.ErrUnknownEventKind, e.Kind)
	}
}

// EnvelopeTransformer is a dataflow Transformer that decodes and validates a
// relayed callback. Malformed messages are skipped.
func EnvelopeTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*Envelope, bool, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal relay envelope from message %s: %w", msg.ID, err)
	}
	if err := env.validate(); err != nil {
		return nil, true, fmt.Errorf("invalid relay envelope in message %s: %w", msg.ID, err)
	}
	return &env, false, nil
}
