// Package router broadcasts classified notification events to every
// process-wide subscriber.
package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// DefaultDedupWindow is how many recent event identities are remembered.
const DefaultDedupWindow = 256

// Router is the single funnel for routed payloads. Route is expected to run on
// the callback loop; Subscribe may be called from anywhere.
type Router struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]push.Handler
	nextID int

	// recent identities, oldest first, bounded by window
	seen   map[string]struct{}
	ring   []string
	head   int
	window int
}

func New(window int, logger *slog.Logger) *Router {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Router{
		logger: logger.With("component", "NotificationRouter"),
		subs:   make(map[int]push.Handler),
		seen:   make(map[string]struct{}, window),
		ring:   make([]string, 0, window),
		window: window,
	}
}

// Subscribe registers h for every subsequently routed event.
func (r *Router) Subscribe(h push.Handler) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Subscribers returns the number of current subscriptions.
func (r *Router) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Route hands ev to every current subscriber and returns how many received it.
// An event whose identity was already routed is dropped. With no subscribers
// the event is dropped; nothing is queued for later.
func (r *Router) Route(ev push.Event) int {
	r.mu.Lock()
	if ev.ID != "" {
		if _, dup := r.seen[ev.ID]; dup {
			r.mu.Unlock()
			r.logger.Debug("Dropping duplicate delivery", "event_id", ev.ID, "context", ev.Context.String())
			return 0
		}
		r.remember(ev.ID)
	}
	handlers := make([]push.Handler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.logger.Debug("No subscribers; notification dropped", "event_id", ev.ID, "context", ev.Context.String())
		return 0
	}

	delivered := 0
	for _, h := range handlers {
		if r.deliver(h, ev) {
			delivered++
		}
	}
	r.logger.Debug("Notification routed", "event_id", ev.ID, "context", ev.Context.String(), "subscribers", delivered)
	return delivered
}

func (r *Router) deliver(h push.Handler, ev push.Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Subscriber panicked", "event_id", ev.ID, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	h(ev)
	return true
}

// remember must be called with mu held.
func (r *Router) remember(id string) {
	if len(r.ring) < r.window {
		r.ring = append(r.ring, id)
	} else {
		delete(r.seen, r.ring[r.head])
		r.ring[r.head] = id
		r.head = (r.head + 1) % r.window
	}
	r.seen[id] = struct{}{}
}
