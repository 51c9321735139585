// Package fcm sends diagnostic notifications to this installation's
// Firebase registration token.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Prober struct {
	client MessagingClient
	logger *slog.Logger
}

func NewProber(client MessagingClient, logger *slog.Logger) *Prober {
	return &Prober{
		client: client,
		logger: logger.With("component", "FCMProber"),
	}
}

// Probe sends one notification to tok and returns the FCM message name.
func (p *Prober) Probe(ctx context.Context, tok string, content notification.NotificationContent, data map[string]string) (string, error) {
	if tok == "" {
		return "", push.ErrTokenNotFound
	}

	msg := &messaging.Message{
		Token: tok,
		Data:  data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}
	if content.Sound != "" {
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: content.Sound}},
		}
	}

	id, err := p.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
			p.logger.Warn("FCM rejected probe token", "err", err)
			return "", fmt.Errorf("%w: %w", push.ErrTokenRejected, err)
		}
		return "", fmt.Errorf("fcm transport failed: %w", err)
	}

	p.logger.Info("Probe sent", "message_id", id)
	return id, nil
}
