package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-client/internal/relay"
	"github.com/tinywideclouds/go-push-client/pkg/push"
	"github.com/tinywideclouds/go-push-client/pushclient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingPublisher captures every command sent to the shell.
type recordingPublisher struct {
	mu       sync.Mutex
	commands []relay.Command
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, data []byte) error {
	var cmd relay.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return p.err
}

func (p *recordingPublisher) snapshot() []relay.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]relay.Command(nil), p.commands...)
}

func (p *recordingPublisher) named(name string) []relay.Command {
	var out []relay.Command
	for _, c := range p.snapshot() {
		if c.Command == name {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	client    *pushclient.Client
	publisher *recordingPublisher
	platform  *relay.Platform
	process   messagepipeline.StreamProcessor[relay.Envelope]

	mu     sync.Mutex
	routed []push.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := newTestLogger()
	h := &harness{publisher: &recordingPublisher{}}
	h.platform = relay.NewPlatform(h.publisher, logger)
	h.client = pushclient.New(pushclient.Platform{
		Authorization: h.platform,
		Registrar:     h.platform,
		Messaging:     h.platform,
	}, pushclient.Options{}, logger)
	h.client.Subscribe(func(ev push.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.routed = append(h.routed, ev)
	})
	h.client.Start()
	t.Cleanup(func() { _ = h.client.Stop(context.Background()) })
	h.process = relay.NewProcessor(h.client, h.platform, logger)
	return h
}

func (h *harness) deliver(t *testing.T, ctx context.Context, msgID, raw string) error {
	t.Helper()
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: msgID, Payload: []byte(raw)}}
	env, skip, err := relay.EnvelopeTransformer(ctx, &msg)
	require.NoError(t, err)
	require.False(t, skip)
	return h.process(ctx, msg, env)
}

func (h *harness) events() []push.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]push.Event(nil), h.routed...)
}

func TestProcessor_NotificationEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	t.Run("Background routes then acknowledges with new data", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"background","payload":{"id":"1"}}`))

		evs := h.events()
		require.Len(t, evs, 1)
		assert.Equal(t, "m-1", evs[0].ID)
		assert.Equal(t, push.Background, evs[0].Context.Kind)

		acks := h.publisher.named(relay.CommandAcknowledge)
		require.Len(t, acks, 1)
		assert.Equal(t, "m-1", acks[0].EventID)
		assert.Equal(t, "new_data", acks[0].FetchResult)
	})

	t.Run("Will present acknowledges with presentation directive", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-2", `{"kind":"will_present","payload":{"id":"2"}}`))

		acks := h.publisher.named(relay.CommandAcknowledge)
		require.Len(t, acks, 1)
		assert.Equal(t, []string{"banner", "list", "sound", "badge"}, acks[0].Presentation)
	})

	t.Run("Custom action is routed as user action", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-3", `{"kind":"response","payload":{"id":"3"},"action_id":"snooze"}`))

		evs := h.events()
		require.Len(t, evs, 1)
		assert.Equal(t, push.UserAction, evs[0].Context.Kind)
		assert.Equal(t, "snooze", evs[0].Context.ActionID)
		assert.Len(t, h.publisher.named(relay.CommandAcknowledge), 1)
	})

	t.Run("Redelivery is routed once and acknowledged twice", func(t *testing.T) {
		h := newHarness(t)
		raw := `{"kind":"background","payload":{"id":"1"}}`

		require.NoError(t, h.deliver(t, ctx, "m-4", raw))
		require.NoError(t, h.deliver(t, ctx, "m-4", raw))

		assert.Len(t, h.events(), 1)
		assert.Len(t, h.publisher.named(relay.CommandAcknowledge), 2)
	})

	t.Run("Failed acknowledgment leaves message for redelivery", func(t *testing.T) {
		h := newHarness(t)
		h.publisher.err = errors.New("topic gone")

		err := h.deliver(t, ctx, "m-5", `{"kind":"background","payload":{"id":"1"}}`)

		require.Error(t, err)
		assert.Len(t, h.events(), 1)
	})

	t.Run("Cold launch routes then acknowledges the launch notification", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-6", `{"kind":"launch","payload":{"id":"42"}}`))

		evs := h.events()
		require.Len(t, evs, 1)
		assert.Equal(t, "m-6", evs[0].ID)
		assert.Equal(t, push.ColdLaunch, evs[0].Context.Kind)
		assert.Equal(t, "42", evs[0].Payload["id"])
		assert.Len(t, h.publisher.named(relay.CommandRequestAuthorization), 1)

		acks := h.publisher.named(relay.CommandAcknowledge)
		require.Len(t, acks, 1)
		assert.Equal(t, "m-6", acks[0].EventID)
		assert.Empty(t, acks[0].FetchResult)
		assert.Empty(t, acks[0].Presentation)
	})

	t.Run("Launch without a notification is not acknowledged", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-7", `{"kind":"launch"}`))
		require.NoError(t, h.client.Flush(ctx))

		assert.Empty(t, h.events())
		assert.Empty(t, h.publisher.named(relay.CommandAcknowledge))
	})
}

func TestProcessor_Registration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	t.Run("Granted authorization requests remote registration", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"launch"}`))
		auth := h.publisher.named(relay.CommandRequestAuthorization)
		require.Len(t, auth, 1)
		assert.Equal(t, []string{"alert", "badge", "sound"}, auth[0].Options)

		require.NoError(t, h.deliver(t, ctx, "m-2", `{"kind":"authorization","granted":true}`))
		require.NoError(t, h.client.Flush(ctx))

		assert.Len(t, h.publisher.named(relay.CommandRegisterRemote), 1)
	})

	t.Run("Denied authorization does not register", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"launch"}`))
		require.NoError(t, h.deliver(t, ctx, "m-2", `{"kind":"authorization","granted":false}`))
		require.NoError(t, h.client.Flush(ctx))

		assert.Empty(t, h.publisher.named(relay.CommandRegisterRemote))
	})

	t.Run("Device identifier is handed to the messaging bridge", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"device_token","device_id":"0a0b"}`))
		require.NoError(t, h.client.Flush(ctx))

		set := h.publisher.named(relay.CommandSetAPNSToken)
		require.Len(t, set, 1)
		assert.Equal(t, "0a0b", set[0].DeviceID)
		id, ok := h.client.DeviceIdentifier()
		assert.True(t, ok)
		assert.Equal(t, "0a0b", id)
	})

	t.Run("Registration token updates the registry", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"registration_token","token":"abc"}`))
		require.NoError(t, h.deliver(t, ctx, "m-2", `{"kind":"registration_token","token":null}`))
		require.NoError(t, h.client.Flush(ctx))

		tok, ok := h.client.CurrentToken()
		assert.True(t, ok)
		assert.Equal(t, "abc", tok)
	})

	t.Run("Registration failure leaves no token", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.deliver(t, ctx, "m-1", `{"kind":"registration_failed","error":"no entitlement"}`))
		require.NoError(t, h.client.Flush(ctx))

		_, ok := h.client.CurrentToken()
		assert.False(t, ok)
	})
}

func TestPlatform_Authorization(t *testing.T) {
	ctx := context.Background()

	t.Run("Answer without request is ignored", func(t *testing.T) {
		p := relay.NewPlatform(&recordingPublisher{}, newTestLogger())
		assert.False(t, p.ResolveAuthorization(true, nil))
	})

	t.Run("Second request supersedes the first", func(t *testing.T) {
		p := relay.NewPlatform(&recordingPublisher{}, newTestLogger())
		var firstErr error
		var secondGranted bool

		p.RequestAuthorization(ctx, pushclient.DefaultAuthorization, func(_ bool, err error) { firstErr = err })
		p.RequestAuthorization(ctx, pushclient.DefaultAuthorization, func(granted bool, _ error) { secondGranted = granted })
		require.True(t, p.ResolveAuthorization(true, nil))

		assert.ErrorIs(t, firstErr, relay.ErrAuthorizationSuperseded)
		assert.True(t, secondGranted)
	})

	t.Run("Publish failure resolves with the error", func(t *testing.T) {
		p := relay.NewPlatform(&recordingPublisher{err: errors.New("offline")}, newTestLogger())
		var gotErr error

		p.RequestAuthorization(ctx, pushclient.DefaultAuthorization, func(_ bool, err error) { gotErr = err })

		require.Error(t, gotErr)
		assert.False(t, p.ResolveAuthorization(true, nil))
	})
}
