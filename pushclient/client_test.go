package pushclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-client/internal/permission"
	"github.com/tinywideclouds/go-push-client/internal/token"
	"github.com/tinywideclouds/go-push-client/pkg/push"
	"github.com/tinywideclouds/go-push-client/pushclient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Platform doubles ---

type fakeCenter struct {
	granted bool
	err     error
}

func (f *fakeCenter) RequestAuthorization(_ context.Context, _ push.AuthorizationOptions, done func(bool, error)) {
	go done(f.granted, f.err)
}

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) RegisterForRemoteNotifications() {
	m.Called()
}

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) SetAPNSToken(deviceID []byte) {
	m.Called(deviceID)
}

// journal records routing and acknowledgment in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
	events  []push.Event
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) handler(ev push.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, "route")
	j.events = append(j.events, ev)
}

func (j *journal) snapshot() ([]string, []push.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...), append([]push.Event(nil), j.events...)
}

type harness struct {
	client    *pushclient.Client
	registrar *mockRegistrar
	bridge    *mockBridge
	outcomes  chan permission.Outcome
}

func newHarness(t *testing.T, center push.AuthorizationCenter, opts pushclient.Options) *harness {
	t.Helper()
	h := &harness{
		registrar: new(mockRegistrar),
		bridge:    new(mockBridge),
		outcomes:  make(chan permission.Outcome, 4),
	}
	opts.OnPermissionOutcome = func(o permission.Outcome) { h.outcomes <- o }
	h.client = pushclient.New(pushclient.Platform{
		Authorization: center,
		Registrar:     h.registrar,
		Messaging:     h.bridge,
	}, opts, newTestLogger())
	h.client.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.client.Stop(ctx)
	})
	return h
}

func flush(t *testing.T, c *pushclient.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Flush(ctx))
}

func TestClient_ColdLaunch(t *testing.T) {
	h := newHarness(t, &fakeCenter{granted: false}, pushclient.Options{})
	j := &journal{}
	h.client.Subscribe(j.handler)

	ok := h.client.DidFinishLaunching(context.Background(), map[string]any{
		push.LaunchRemoteNotificationKey: map[string]any{"id": "42"},
	})
	require.True(t, ok)

	// Routed before DidFinishLaunching returned, no flush needed.
	_, events := j.snapshot()
	require.Len(t, events, 1)

	assert.Equal(t, permission.Denied, <-h.outcomes)
	flush(t, h.client)
	assert.Equal(t, push.ColdLaunch, events[0].Context.Kind)
	assert.Equal(t, push.Payload{"id": "42"}, events[0].Payload)
	h.registrar.AssertNotCalled(t, "RegisterForRemoteNotifications")
}

func TestClient_RouteThenAcknowledge(t *testing.T) {
	payload := push.Payload{"id": "7"}

	testCases := []struct {
		name     string
		deliver  func(c *pushclient.Client, j *journal)
		expected push.DeliveryContext
	}{
		{
			name: "Cold launch",
			deliver: func(c *pushclient.Client, j *journal) {
				if c.DidFinishLaunching(context.Background(), map[string]any{push.LaunchRemoteNotificationKey: payload}) {
					j.add("ack")
				}
			},
			expected: push.DeliveryContext{Kind: push.ColdLaunch},
		},
		{
			name: "Background",
			deliver: func(c *pushclient.Client, j *journal) {
				c.DidReceiveRemoteNotification(payload, func(r push.BackgroundFetchResult) {
					assert.Equal(t, push.NewData, r)
					j.add("ack")
				})
			},
			expected: push.DeliveryContext{Kind: push.Background},
		},
		{
			name: "Foreground presentation",
			deliver: func(c *pushclient.Client, j *journal) {
				c.WillPresentNotification(payload, func(o push.PresentationOptions) {
					assert.Equal(t, push.DefaultPresentation, o)
					j.add("ack")
				})
			},
			expected: push.DeliveryContext{Kind: push.ForegroundPresentation},
		},
		{
			name: "Custom action",
			deliver: func(c *pushclient.Client, j *journal) {
				c.DidReceiveNotificationResponse(payload, "snooze", func() { j.add("ack") })
			},
			expected: push.DeliveryContext{Kind: push.UserAction, ActionID: "snooze"},
		},
		{
			name: "Dismiss",
			deliver: func(c *pushclient.Client, j *journal) {
				c.DidReceiveNotificationResponse(payload, push.DismissActionID, func() { j.add("ack") })
			},
			expected: push.DeliveryContext{Kind: push.UserAction, ActionID: push.DismissActionID},
		},
		{
			name: "Default tap",
			deliver: func(c *pushclient.Client, j *journal) {
				c.DidReceiveNotificationResponse(payload, push.DefaultActionID, func() { j.add("ack") })
			},
			expected: push.DeliveryContext{Kind: push.UserAction, ActionID: push.DefaultActionID},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &fakeCenter{}, pushclient.Options{})
			j := &journal{}
			h.client.Subscribe(j.handler)

			tc.deliver(h.client, j)
			flush(t, h.client)

			entries, events := j.snapshot()
			assert.Equal(t, []string{"route", "ack"}, entries)
			require.Len(t, events, 1)
			assert.Equal(t, tc.expected, events[0].Context)
			assert.Equal(t, payload, events[0].Payload)
		})
	}
}

func TestClient_AcknowledgesWithoutSubscribers(t *testing.T) {
	h := newHarness(t, &fakeCenter{}, pushclient.Options{})
	acks := 0
	h.client.DidReceiveRemoteNotification(push.Payload{"id": "1"}, func(push.BackgroundFetchResult) { acks++ })
	flush(t, h.client)
	assert.Equal(t, 1, acks)
}

func TestClient_AcknowledgesAfterStop(t *testing.T) {
	h := newHarness(t, &fakeCenter{}, pushclient.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, h.client.Stop(ctx))

	acks := 0
	h.client.DidReceiveNotificationResponse(push.Payload{}, "", func() { acks++ })
	assert.Equal(t, 1, acks)
}

func TestClient_DispatchDeduplicatesIdentity(t *testing.T) {
	h := newHarness(t, &fakeCenter{}, pushclient.Options{})
	j := &journal{}
	h.client.Subscribe(j.handler)

	ev := h.client.Classifier().Background(push.Payload{"id": "1"})
	acks := 0
	h.client.Dispatch(ev, func() { acks++ })
	h.client.Dispatch(ev, func() { acks++ })
	flush(t, h.client)

	_, events := j.snapshot()
	assert.Len(t, events, 1)
	assert.Equal(t, 2, acks, "every delivery is acknowledged even when deduplicated")
}

func TestClient_TokenLifecycle(t *testing.T) {
	h := newHarness(t, &fakeCenter{}, pushclient.Options{})

	var mu sync.Mutex
	var transitions []token.Transition
	h.client.SubscribeToken(func(c token.Change) {
		mu.Lock()
		transitions = append(transitions, c.Transition)
		mu.Unlock()
	})

	abc, xyz := "abc", "xyz"
	h.client.DidReceiveRegistrationToken(nil)
	h.client.DidReceiveRegistrationToken(&abc)
	h.client.DidReceiveRegistrationToken(&abc)
	h.client.DidReceiveRegistrationToken(&xyz)
	flush(t, h.client)

	cur, ok := h.client.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, "xyz", cur)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []token.Transition{token.FirstIssuance, token.Unchanged, token.Changed}, transitions)
}

func TestClient_RegistrationCallbacks(t *testing.T) {
	h := newHarness(t, &fakeCenter{}, pushclient.Options{})

	raw := []byte{0x01, 0xff}
	h.bridge.On("SetAPNSToken", raw).Return().Once()

	h.client.DidRegisterForRemoteNotifications(raw)
	h.client.DidFailToRegisterForRemoteNotifications(errors.New("simulator"))
	flush(t, h.client)

	id, ok := h.client.DeviceIdentifier()
	require.True(t, ok)
	assert.Equal(t, "01ff", id)
	h.bridge.AssertExpectations(t)

	_, ok = h.client.CurrentToken()
	assert.False(t, ok, "registration failure never produces a token")
}

func TestClient_PermissionGrantRegistersOnce(t *testing.T) {
	h := newHarness(t, &fakeCenter{granted: true}, pushclient.Options{})
	h.registrar.On("RegisterForRemoteNotifications").Return()

	h.client.DidFinishLaunching(context.Background(), nil)
	assert.Equal(t, permission.Granted, <-h.outcomes)
	flush(t, h.client)

	h.registrar.AssertNumberOfCalls(t, "RegisterForRemoteNotifications", 1)
}

func TestClient_PermissionErrorDoesNotRegister(t *testing.T) {
	h := newHarness(t, &fakeCenter{granted: true, err: errors.New("no prompt")}, pushclient.Options{})

	h.client.DidFinishLaunching(context.Background(), nil)
	assert.Equal(t, permission.Errored, <-h.outcomes)
	flush(t, h.client)

	h.registrar.AssertNotCalled(t, "RegisterForRemoteNotifications")
}

func TestClient_RegisterAtLaunch(t *testing.T) {
	h := newHarness(t, &fakeCenter{granted: false}, pushclient.Options{RegisterAtLaunch: true})
	h.registrar.On("RegisterForRemoteNotifications").Return()

	h.client.DidFinishLaunching(context.Background(), nil)
	assert.Equal(t, permission.Denied, <-h.outcomes)
	flush(t, h.client)

	h.registrar.AssertNumberOfCalls(t, "RegisterForRemoteNotifications", 1)
}
