// Package token tracks the messaging token issued to this installation and
// classifies every issuance as a first issuance, a change, or a repeat.
package token

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Transition classifies a single issuance callback.
type Transition int

const (
	FirstIssuance Transition = iota + 1
	Changed
	Unchanged
)

func (t Transition) String() string {
	switch t {
	case FirstIssuance:
		return "first_issuance"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Change describes one issuance. Previous is empty for FirstIssuance.
type Change struct {
	Transition Transition
	Previous   string
	Current    string
}

// Observer is notified of every classified issuance, including Unchanged.
type Observer func(Change)

// Registry holds the current messaging token.
//
// Issue, ForwardDeviceIdentifier and RegistrationFailed must only be called
// from the callback loop. Current, Previous and DeviceIdentifier are safe from
// any goroutine.
type Registry struct {
	current  atomic.Pointer[string]
	previous atomic.Pointer[string]
	deviceID atomic.Pointer[string]

	bridge push.MessagingBridge
	logger *slog.Logger

	mu        sync.Mutex
	observers map[int]Observer
	nextID    int
}

// NewRegistry creates an empty registry in the Unregistered state.
// bridge may be nil when no messaging platform needs the device identifier.
func NewRegistry(bridge push.MessagingBridge, logger *slog.Logger) *Registry {
	return &Registry{
		bridge:    bridge,
		logger:    logger.With("component", "TokenRegistry"),
		observers: make(map[int]Observer),
	}
}

// Restore seeds the registry from a persisted record without notifying observers.
// A later issuance of the same token is then classified as Unchanged.
func (r *Registry) Restore(rec *push.TokenRecord) {
	if rec == nil || rec.Token == "" {
		return
	}
	tok := rec.Token
	r.current.Store(&tok)
	if rec.PreviousToken != "" {
		prev := rec.PreviousToken
		r.previous.Store(&prev)
	}
	if rec.DeviceID != "" {
		id := rec.DeviceID
		r.deviceID.Store(&id)
	}
	r.logger.Debug("Token restored from store")
}

// Issue records a token delivered by the messaging platform. An empty token
// is ignored and reported as false.
func (r *Registry) Issue(tok string) (Change, bool) {
	if tok == "" {
		r.logger.Debug("Ignoring empty registration token")
		return Change{}, false
	}

	var change Change
	prev := r.current.Load()
	switch {
	case prev == nil:
		change = Change{Transition: FirstIssuance, Current: tok}
		r.logger.Info("First time receiving token", "token", tok)
	case *prev != tok:
		change = Change{Transition: Changed, Previous: *prev, Current: tok}
		r.logger.Info("Token changed", "previous", *prev, "new", tok)
	default:
		change = Change{Transition: Unchanged, Previous: *prev, Current: tok}
		r.logger.Debug("Same token as before")
	}

	if change.Transition != Unchanged {
		if change.Previous != "" {
			r.previous.Store(&change.Previous)
		}
		r.current.Store(&tok)
	}

	r.notify(change)
	return change, true
}

// Current returns the most recently issued token.
func (r *Registry) Current() (string, bool) {
	p := r.current.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Previous returns the token replaced by the last change, if any.
func (r *Registry) Previous() string {
	if p := r.previous.Load(); p != nil {
		return *p
	}
	return ""
}

// ForwardDeviceIdentifier passes the OS device identifier to the messaging
// platform. It has no outcome; failures surface later as RegistrationFailed.
func (r *Registry) ForwardDeviceIdentifier(id []byte) {
	if len(id) == 0 {
		r.logger.Warn("Ignoring empty device identifier")
		return
	}
	if r.bridge != nil {
		r.bridge.SetAPNSToken(id)
	}
	h := hex.EncodeToString(id)
	r.deviceID.Store(&h)
	r.logger.Debug("Device identifier forwarded", "device_id", h)
}

// DeviceIdentifier returns the hex form of the last forwarded device identifier.
func (r *Registry) DeviceIdentifier() (string, bool) {
	p := r.deviceID.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// RegistrationFailed records a rejected remote registration. It is not retried.
func (r *Registry) RegistrationFailed(err error) {
	r.logger.Error("Failed to register for remote notifications",
		"err", fmt.Errorf("%w: %w", push.ErrRegistrationFailed, err))
}

// Subscribe adds an observer and returns a func that removes it.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = o
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) notify(c Change) {
	r.mu.Lock()
	obs := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		obs = append(obs, o)
	}
	r.mu.Unlock()

	for _, o := range obs {
		o(c)
	}
}
