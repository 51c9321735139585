package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

const (
	CommandRequestAuthorization = "request_authorization"
	CommandRegisterRemote       = "register_remote"
	CommandSetAPNSToken         = "set_apns_token"
	CommandAcknowledge          = "acknowledge"
)

// ErrAuthorizationSuperseded resolves an authorization request that was
// replaced by a newer one before the shell answered.
var ErrAuthorizationSuperseded = errors.New("authorization request superseded")

// Command is an instruction for the native shell.
type Command struct {
	Command      string   `json:"command"`
	Options      []string `json:"options,omitempty"`
	DeviceID     string   `json:"device_id,omitempty"`
	EventID      string   `json:"event_id,omitempty"`
	FetchResult  string   `json:"fetch_result,omitempty"`
	Presentation []string `json:"presentation,omitempty"`
}

// Publisher sends an encoded command to the shell.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// PubsubPublisher publishes commands to a Pub/Sub topic and waits for the
// server acknowledgment.
type PubsubPublisher struct {
	publisher *pubsub.Publisher
}

func NewPubsubPublisher(client *pubsub.Client, topicID string) *PubsubPublisher {
	return &PubsubPublisher{publisher: client.Publisher(topicID)}
}

func (p *PubsubPublisher) Publish(ctx context.Context, data []byte) error {
	if _, err := p.publisher.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		return fmt.Errorf("failed to publish relay command: %w", err)
	}
	return nil
}

// Stop flushes pending publishes.
func (p *PubsubPublisher) Stop() {
	p.publisher.Stop()
}

// Platform implements the push platform interfaces by sending commands to
// the shell. The authorization answer comes back as an authorization envelope.
type Platform struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending func(bool, error)
}

func NewPlatform(publisher Publisher, logger *slog.Logger) *Platform {
	return &Platform{
		publisher: publisher,
		timeout:   10 * time.Second,
		logger:    logger.With("component", "RelayPlatform"),
	}
}

func (p *Platform) RequestAuthorization(ctx context.Context, opts push.AuthorizationOptions, done func(granted bool, err error)) {
	p.mu.Lock()
	previous := p.pending
	p.pending = done
	p.mu.Unlock()

	if previous != nil {
		previous(false, ErrAuthorizationSuperseded)
	}

	cmd := Command{Command: CommandRequestAuthorization, Options: optionNames(opts)}
	if err := p.send(ctx, cmd); err != nil {
		if cb := p.take(); cb != nil {
			cb(false, err)
		}
	}
}

// ResolveAuthorization delivers the shell's answer to the outstanding
// request. It reports false when nothing was pending.
func (p *Platform) ResolveAuthorization(granted bool, err error) bool {
	cb := p.take()
	if cb == nil {
		p.logger.Warn("Authorization answer with no pending request", "granted", granted)
		return false
	}
	cb(granted, err)
	return true
}

func (p *Platform) RegisterForRemoteNotifications() {
	if err := p.send(context.Background(), Command{Command: CommandRegisterRemote}); err != nil {
		p.logger.Error("Failed to request remote registration", "err", err)
	}
}

func (p *Platform) SetAPNSToken(deviceID []byte) {
	cmd := Command{Command: CommandSetAPNSToken, DeviceID: hex.EncodeToString(deviceID)}
	if err := p.send(context.Background(), cmd); err != nil {
		p.logger.Error("Failed to forward device identifier", "err", err)
	}
}

// Acknowledge tells the shell to call the platform completion handler for eventID.
func (p *Platform) Acknowledge(ctx context.Context, eventID string, fetch *push.BackgroundFetchResult, presentation *push.PresentationOptions) error {
	cmd := Command{Command: CommandAcknowledge, EventID: eventID}
	if fetch != nil {
		cmd.FetchResult = fetch.String()
	}
	if presentation != nil {
		cmd.Presentation = presentation.Names()
	}
	return p.send(ctx, cmd)
}

func (p *Platform) take() func(bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb := p.pending
	p.pending = nil
	return cb
}

func (p *Platform) send(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal %s command: %w", cmd.Command, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.publisher.Publish(ctx, data)
}

func optionNames(opts push.AuthorizationOptions) []string {
	var names []string
	if opts.Alert {
		names = append(names, "alert")
	}
	if opts.Badge {
		names = append(names, "badge")
	}
	if opts.Sound {
		names = append(names, "sound")
	}
	return names
}
