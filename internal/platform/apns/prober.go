// Package apns sends diagnostic notifications straight to this installation's
// APNs device identifier, bypassing FCM.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Prober struct {
	client APNSClient
	topic  string // app bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
	Sandbox      bool
}

// NewProber parses the P8 key up front so bad credentials fail at startup.
func NewProber(cfg Config, logger *slog.Logger) (*Prober, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewProberWithClient(client, cfg.BundleID, logger), nil
}

func NewProberWithClient(client APNSClient, topic string, logger *slog.Logger) *Prober {
	return &Prober{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSProber"),
	}
}

// Probe sends one alert to the hex device identifier and returns the apns-id.
func (p *Prober) Probe(ctx context.Context, deviceID string, content notification.NotificationContent, data map[string]string) (string, error) {
	if deviceID == "" {
		return "", push.ErrTokenNotFound
	}

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		Sound(content.Sound)
	for k, v := range data {
		builder.Custom(k, v)
	}

	res, err := p.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceID,
		Topic:       p.topic,
		Payload:     builder,
	})
	if err != nil {
		return "", fmt.Errorf("apns transport failed: %w", err)
	}

	if !res.Sent() {
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			p.logger.Warn("APNs rejected probe device", "reason", res.Reason)
			return "", fmt.Errorf("%w: %s", push.ErrTokenRejected, res.Reason)
		default:
			// Topic or payload problems are configuration errors, not a bad device.
			return "", fmt.Errorf("apns rejected probe: status %d reason %s", res.StatusCode, res.Reason)
		}
	}

	p.logger.Info("Probe sent", "apns_id", res.ApnsID)
	return res.ApnsID, nil
}
