package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-client/internal/classify"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Client is the part of the push client the relay drives.
type Client interface {
	DidFinishLaunching(ctx context.Context, launchOptions map[string]any) bool
	DidRegisterForRemoteNotifications(deviceID []byte)
	DidFailToRegisterForRemoteNotifications(err error)
	DidReceiveRegistrationToken(fcmToken *string)
	Classifier() *classify.Classifier
	Dispatch(ev push.Event, ack func())
}

// NewProcessor maps relayed callbacks onto the client. Notification events
// take the Pub/Sub message ID as their identity so a redelivered message is
// routed once but acknowledged again.
func NewProcessor(client Client, platform *Platform, logger *slog.Logger) messagepipeline.StreamProcessor[Envelope] {
	return func(ctx context.Context, original messagepipeline.Message, env *Envelope) error {
		procLogger := logger.With("kind", string(env.Kind), "pubsub_msg_id", original.ID)
		classifier := client.Classifier()

		switch env.Kind {
		case KindLaunch:
			client.DidFinishLaunching(ctx, nil)
			if env.Payload == nil {
				return nil
			}
			ev, ok := classifier.FromLaunchOptions(map[string]any{push.LaunchRemoteNotificationKey: env.Payload})
			if !ok {
				return nil
			}
			ev.ID = original.ID
			return dispatchAndWait(ctx, client, ev, func(ctx context.Context) error {
				return platform.Acknowledge(ctx, ev.ID, nil, nil)
			})

		case KindBackground:
			ev := classifier.Background(env.Payload)
			ev.ID = original.ID
			result := push.NewData
			return dispatchAndWait(ctx, client, ev, func(ctx context.Context) error {
				return platform.Acknowledge(ctx, ev.ID, &result, nil)
			})

		case KindWillPresent:
			ev, opts := classifier.WillPresent(env.Payload)
			ev.ID = original.ID
			return dispatchAndWait(ctx, client, ev, func(ctx context.Context) error {
				return platform.Acknowledge(ctx, ev.ID, nil, &opts)
			})

		case KindResponse:
			ev := classifier.Response(env.Payload, env.ActionID)
			ev.ID = original.ID
			return dispatchAndWait(ctx, client, ev, func(ctx context.Context) error {
				return platform.Acknowledge(ctx, ev.ID, nil, nil)
			})

		case KindRegistrationToken:
			client.DidReceiveRegistrationToken(env.Token)
			return nil

		case KindDeviceToken:
			client.DidRegisterForRemoteNotifications(env.DeviceBytes())
			return nil

		case KindRegistrationFailed:
			client.DidFailToRegisterForRemoteNotifications(errors.New(env.Error))
			return nil

		case KindAuthorization:
			var err error
			if env.Error != "" {
				err = errors.New(env.Error)
			}
			platform.ResolveAuthorization(env.Granted, err)
			return nil
		}

		// The transformer rejects unknown kinds; reaching here is a wiring bug.
		procLogger.Error("Unhandled relay envelope")
		return nil
	}
}

// dispatchAndWait routes ev and forwards the acknowledgment once the client
// has signalled it. An error leaves the message unacknowledged for redelivery.
func dispatchAndWait(ctx context.Context, client Client, ev push.Event, forward func(context.Context) error) error {
	done := make(chan struct{})
	client.Dispatch(ev, func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return forward(ctx)
}
