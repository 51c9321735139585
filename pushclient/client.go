// Package pushclient assembles the push client core: one method per platform
// callback, all executed on a single callback loop.
package pushclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-client/internal/classify"
	"github.com/tinywideclouds/go-push-client/internal/loop"
	"github.com/tinywideclouds/go-push-client/internal/permission"
	"github.com/tinywideclouds/go-push-client/internal/router"
	"github.com/tinywideclouds/go-push-client/internal/token"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Platform groups the host platform services the client talks to.
// Messaging may be nil.
type Platform struct {
	Authorization push.AuthorizationCenter
	Registrar     push.RemoteRegistrar
	Messaging     push.MessagingBridge
}

// Options are fixed for the lifetime of a Client.
type Options struct {
	Authorization    push.AuthorizationOptions
	Presentation     push.PresentationOptions
	DedupWindow      int
	QueueDepth       int
	AckBudget        time.Duration
	RegisterAtLaunch bool

	// Classifier options, mostly for tests.
	ClassifierOptions []classify.Option
	// OnPermissionOutcome observes negotiation results.
	OnPermissionOutcome func(permission.Outcome)
}

// DefaultAuthorization requests alerts, badges and sounds.
var DefaultAuthorization = push.AuthorizationOptions{Alert: true, Badge: true, Sound: true}

type Client struct {
	loop       *loop.Loop
	registry   *token.Registry
	negotiator *permission.Negotiator
	classifier *classify.Classifier
	router     *router.Router
	registrar  push.RemoteRegistrar
	opts       Options
	logger     *slog.Logger
}

// New assembles a client. Call Start before delivering callbacks.
func New(platform Platform, opts Options, logger *slog.Logger) *Client {
	if opts.Authorization == (push.AuthorizationOptions{}) {
		opts.Authorization = DefaultAuthorization
	}
	if opts.AckBudget <= 0 {
		opts.AckBudget = 25 * time.Second
	}

	l := loop.New(opts.QueueDepth, logger)

	var negOpts []permission.Option
	if opts.OnPermissionOutcome != nil {
		negOpts = append(negOpts, permission.WithOutcomeObserver(opts.OnPermissionOutcome))
	}

	return &Client{
		loop:       l,
		registry:   token.NewRegistry(platform.Messaging, logger),
		negotiator: permission.NewNegotiator(platform.Authorization, platform.Registrar, opts.Authorization, l, logger, negOpts...),
		classifier: classify.New(opts.Presentation, opts.ClassifierOptions...),
		router:     router.New(opts.DedupWindow, logger),
		registrar:  platform.Registrar,
		opts:       opts,
		logger:     logger.With("component", "PushClient"),
	}
}

func (c *Client) Start() {
	c.loop.Start()
}

// Stop drains pending callbacks.
func (c *Client) Stop(ctx context.Context) error {
	return c.loop.Stop(ctx)
}

// Flush waits until every callback posted so far has run.
func (c *Client) Flush(ctx context.Context) error {
	return c.loop.Sync(ctx, func() {})
}

// Registry exposes the token registry for wiring persistence and sync.
func (c *Client) Registry() *token.Registry {
	return c.registry
}

// Classifier exposes the classifier for transports that mint their own identities.
func (c *Client) Classifier() *classify.Classifier {
	return c.classifier
}

// Subscribe registers h for every routed notification.
func (c *Client) Subscribe(h push.Handler) (unsubscribe func()) {
	return c.router.Subscribe(h)
}

// SubscribeToken registers o for every token issuance. Observers run on the
// callback loop.
func (c *Client) SubscribeToken(o token.Observer) (unsubscribe func()) {
	return c.registry.Subscribe(o)
}

// CurrentToken returns the current messaging token, if one has been issued.
func (c *Client) CurrentToken() (string, bool) {
	return c.registry.Current()
}

// PreviousToken returns the token replaced by the last change, or "".
func (c *Client) PreviousToken() string {
	return c.registry.Previous()
}

// Subscribers returns the number of notification subscribers.
func (c *Client) Subscribers() int {
	return c.router.Subscribers()
}

// Presentation returns the foreground directive handed back to the platform.
func (c *Client) Presentation() push.PresentationOptions {
	return c.classifier.Presentation()
}

// DeviceIdentifier returns the hex device identifier, if one has been forwarded.
func (c *Client) DeviceIdentifier() (string, bool) {
	return c.registry.DeviceIdentifier()
}

// --- Lifecycle ---

// DidFinishLaunching starts permission negotiation and routes any
// notification the app was launched with. The launch notification is routed
// before it returns, so the true result is its acknowledgment. It must not be
// called from the callback loop.
func (c *Client) DidFinishLaunching(ctx context.Context, launchOptions map[string]any) bool {
	c.negotiator.Negotiate(ctx)

	if c.opts.RegisterAtLaunch {
		c.post("register_at_launch", c.registrar.RegisterForRemoteNotifications)
	}

	if ev, ok := c.classifier.FromLaunchOptions(launchOptions); ok {
		routed := make(chan struct{})
		c.Dispatch(ev, func() { close(routed) })
		select {
		case <-routed:
		case <-ctx.Done():
			c.logger.Warn("Launch finished before the launch notification was routed",
				"event_id", ev.ID, "err", ctx.Err())
		}
	}
	return true
}

// --- Registration callbacks ---

func (c *Client) DidRegisterForRemoteNotifications(deviceID []byte) {
	id := append([]byte(nil), deviceID...)
	c.post("device_token", func() { c.registry.ForwardDeviceIdentifier(id) })
}

func (c *Client) DidFailToRegisterForRemoteNotifications(err error) {
	c.post("registration_failed", func() { c.registry.RegistrationFailed(err) })
}

// DidReceiveRegistrationToken accepts the messaging platform's token; nil is ignored.
func (c *Client) DidReceiveRegistrationToken(fcmToken *string) {
	if fcmToken == nil {
		c.logger.Debug("Nil registration token; nothing to do")
		return
	}
	tok := *fcmToken
	c.post("registration_token", func() { c.registry.Issue(tok) })
}

// --- Notification callbacks ---

// DidReceiveRemoteNotification handles a background delivery.
func (c *Client) DidReceiveRemoteNotification(payload push.Payload, completion func(push.BackgroundFetchResult)) {
	ev := c.classifier.Background(payload)
	c.Dispatch(ev, func() {
		if completion != nil {
			completion(push.NewData)
		}
	})
}

// WillPresentNotification handles a delivery while the app is in the foreground.
func (c *Client) WillPresentNotification(payload push.Payload, completion func(push.PresentationOptions)) {
	ev, opts := c.classifier.WillPresent(payload)
	c.Dispatch(ev, func() {
		if completion != nil {
			completion(opts)
		}
	})
}

// DidReceiveNotificationResponse handles a tap, dismissal or custom action.
func (c *Client) DidReceiveNotificationResponse(payload push.Payload, actionID string, completion func()) {
	ev := c.classifier.Response(payload, actionID)
	switch {
	case ev.Context.IsDefaultTap():
		c.logger.Debug("Default action - notification tapped", "event_id", ev.ID)
	case ev.Context.IsDismiss():
		c.logger.Debug("Notification dismissed", "event_id", ev.ID)
	default:
		c.logger.Debug("Custom action", "event_id", ev.ID, "action_id", ev.Context.ActionID)
	}
	c.Dispatch(ev, completion)
}

// Dispatch routes a classified event on the loop and then acknowledges it.
// ack is called exactly once, after routing; it may be nil.
func (c *Client) Dispatch(ev push.Event, ack func()) {
	var once sync.Once
	acknowledge := func() {
		once.Do(func() {
			if ack != nil {
				ack()
			}
		})
	}

	err := c.loop.Post(func() {
		start := time.Now()
		c.router.Route(ev)
		if elapsed := time.Since(start); elapsed > c.opts.AckBudget {
			c.logger.Warn("Routing exceeded acknowledgment budget",
				"event_id", ev.ID, "context", ev.Context.String(), "elapsed", elapsed, "budget", c.opts.AckBudget)
		}
		acknowledge()
	})
	if err != nil {
		// The platform still needs its signal even if we cannot route.
		c.logger.Warn("Loop stopped; acknowledging without routing", "event_id", ev.ID, "err", err)
		acknowledge()
	}
}

func (c *Client) post(op string, fn func()) {
	if err := c.loop.Post(fn); err != nil {
		c.logger.Warn("Callback dropped", "op", op, "err", err)
	}
}
