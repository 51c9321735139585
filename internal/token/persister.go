package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-client/internal/loop"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Persister writes token changes to a TokenStore off the callback loop.
// Writes are serialized so the store always ends with the latest token.
type Persister struct {
	store    push.TokenStore
	registry *Registry
	writes   *loop.Loop
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPersister(store push.TokenStore, registry *Registry, timeout time.Duration, logger *slog.Logger) *Persister {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persister{
		store:    store,
		registry: registry,
		writes:   loop.New(16, logger),
		timeout:  timeout,
		logger:   logger.With("component", "TokenPersister"),
	}
}

// Restore loads the saved token into the registry. A missing token is not an error.
func (p *Persister) Restore(ctx context.Context) error {
	rec, err := p.store.Load(ctx)
	if errors.Is(err, push.ErrTokenNotFound) {
		p.logger.Debug("No persisted token")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load persisted token: %w", err)
	}
	p.registry.Restore(rec)
	return nil
}

func (p *Persister) Start() {
	p.writes.Start()
}

func (p *Persister) Stop(ctx context.Context) error {
	return p.writes.Stop(ctx)
}

// Observe is a registry Observer. Unchanged issuances are not written.
func (p *Persister) Observe(c Change) {
	if c.Transition == Unchanged {
		return
	}
	deviceID, _ := p.registry.DeviceIdentifier()
	rec := push.TokenRecord{
		Token:         c.Current,
		PreviousToken: c.Previous,
		DeviceID:      deviceID,
		UpdatedAt:     time.Now().UTC(),
	}
	err := p.writes.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.store.Save(ctx, rec); err != nil {
			p.logger.Error("Failed to persist token", "transition", c.Transition.String(), "err", err)
			return
		}
		p.logger.Debug("Token persisted", "transition", c.Transition.String())
	})
	if err != nil {
		p.logger.Warn("Token write dropped", "err", err)
	}
}
