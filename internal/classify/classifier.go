// Package classify turns the four differently shaped platform arrival
// callbacks into uniform push.Events.
package classify

import (
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Classifier holds no per-event state; the presentation directive is fixed
// at construction.
type Classifier struct {
	presentation push.PresentationOptions
	newID        func() string
	now          func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithIDSource overrides how delivery event identities are minted.
func WithIDSource(fn func() string) Option {
	return func(c *Classifier) { c.newID = fn }
}

// WithClock overrides the arrival timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(c *Classifier) { c.now = fn }
}

func New(presentation push.PresentationOptions, opts ...Option) *Classifier {
	if presentation == 0 {
		presentation = push.DefaultPresentation
	}
	c := &Classifier{
		presentation: presentation,
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromLaunchOptions extracts the remote notification the app was launched
// with. It reports false when the options carry no notification mapping.
func (c *Classifier) FromLaunchOptions(launchOptions map[string]any) (push.Event, bool) {
	raw, ok := launchOptions[push.LaunchRemoteNotificationKey]
	if !ok {
		return push.Event{}, false
	}
	payload, ok := asPayload(raw)
	if !ok {
		return push.Event{}, false
	}
	return c.event(push.DeliveryContext{Kind: push.ColdLaunch}, payload), true
}

// Background classifies a delivery through the remote notification callback.
func (c *Classifier) Background(payload push.Payload) push.Event {
	return c.event(push.DeliveryContext{Kind: push.Background}, payload)
}

// WillPresent classifies a delivery while the app is active and returns the
// presentation directive to hand back to the platform.
func (c *Classifier) WillPresent(payload push.Payload) (push.Event, push.PresentationOptions) {
	return c.event(push.DeliveryContext{Kind: push.ForegroundPresentation}, payload), c.presentation
}

// Response classifies a user interaction. Dismissals and custom actions are
// carried like taps; an empty identifier is treated as the default tap.
func (c *Classifier) Response(payload push.Payload, actionID string) push.Event {
	if actionID == "" {
		actionID = push.DefaultActionID
	}
	return c.event(push.DeliveryContext{Kind: push.UserAction, ActionID: actionID}, payload)
}

// Presentation returns the configured foreground directive.
func (c *Classifier) Presentation() push.PresentationOptions {
	return c.presentation
}

func (c *Classifier) event(ctx push.DeliveryContext, payload push.Payload) push.Event {
	return push.Event{
		ID:         c.newID(),
		Context:    ctx,
		Payload:    payload,
		ReceivedAt: c.now(),
	}
}

// asPayload accepts the mapping shapes a host bridge may hand over.
func asPayload(v any) (push.Payload, bool) {
	switch m := v.(type) {
	case push.Payload:
		return m, true
	case map[string]any:
		return push.Payload(m), true
	case map[any]any:
		converted := make(push.Payload, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				converted[ks] = val
			}
		}
		return converted, true
	default:
		return nil, false
	}
}
