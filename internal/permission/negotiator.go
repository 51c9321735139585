// Package permission negotiates notification authorization with the user and
// triggers remote registration once it is granted.
package permission

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Outcome is the result of a single negotiation.
type Outcome int

const (
	Granted Outcome = iota + 1
	Denied
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Poster schedules work on the callback loop.
type Poster interface {
	Post(fn func()) error
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithOutcomeObserver reports every negotiation outcome, for diagnostics.
func WithOutcomeObserver(fn func(Outcome)) Option {
	return func(n *Negotiator) {
		n.onOutcome = fn
	}
}

type Negotiator struct {
	center    push.AuthorizationCenter
	registrar push.RemoteRegistrar
	opts      push.AuthorizationOptions
	loop      Poster
	logger    *slog.Logger
	onOutcome func(Outcome)
}

// NewNegotiator creates a negotiator for a fixed set of requested capabilities.
func NewNegotiator(
	center push.AuthorizationCenter,
	registrar push.RemoteRegistrar,
	opts push.AuthorizationOptions,
	loop Poster,
	logger *slog.Logger,
	options ...Option,
) *Negotiator {
	n := &Negotiator{
		center:    center,
		registrar: registrar,
		opts:      opts,
		loop:      loop,
		logger:    logger.With("component", "PermissionNegotiator"),
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Negotiate requests authorization and returns without waiting for the answer.
// Nothing is reported to the caller; a grant posts exactly one registration
// request to the loop, anything else ends the negotiation.
func (n *Negotiator) Negotiate(ctx context.Context) {
	var once sync.Once
	n.logger.Debug("Requesting notification authorization",
		"alert", n.opts.Alert, "badge", n.opts.Badge, "sound", n.opts.Sound)

	n.center.RequestAuthorization(ctx, n.opts, func(granted bool, err error) {
		once.Do(func() { n.resolve(granted, err) })
	})
}

func (n *Negotiator) resolve(granted bool, err error) {
	switch {
	case err != nil:
		n.logger.Debug("Authorization request failed; not registering", "err", err)
		n.report(Errored)
	case !granted:
		n.logger.Info("Notification permission not granted", "err", push.ErrPermissionDenied)
		n.report(Denied)
	default:
		if postErr := n.loop.Post(n.registrar.RegisterForRemoteNotifications); postErr != nil {
			n.logger.Warn("Could not schedule remote registration", "err", postErr)
		} else {
			n.logger.Info("Notification permission granted; registering for remote notifications")
		}
		n.report(Granted)
	}
}

func (n *Negotiator) report(o Outcome) {
	if n.onOutcome != nil {
		n.onOutcome(o)
	}
}
