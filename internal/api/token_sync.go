package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-client/internal/loop"
	"github.com/tinywideclouds/go-push-client/internal/token"
)

// RegisterFCMRequest is the body of the backend's register and unregister routes.
type RegisterFCMRequest struct {
	Token string `json:"token"`
}

// TokenSync keeps the notification backend's device list in step with the
// registry. Uploads run off the callback loop, one at a time, and are not retried.
type TokenSync struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
	timeout    time.Duration
	posts      *loop.Loop
	logger     *slog.Logger
}

func NewTokenSync(baseURL, bearer string, httpClient *http.Client, logger *slog.Logger) *TokenSync {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TokenSync{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     bearer,
		httpClient: httpClient,
		timeout:    10 * time.Second,
		posts:      loop.New(16, logger),
		logger:     logger.With("component", "TokenSync"),
	}
}

func (s *TokenSync) Start() {
	s.posts.Start()
}

func (s *TokenSync) Stop(ctx context.Context) error {
	return s.posts.Stop(ctx)
}

// Observe is a registry Observer.
func (s *TokenSync) Observe(c token.Change) {
	if c.Transition == token.Unchanged {
		return
	}
	err := s.posts.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.RegisterFCM(ctx, c.Current); err != nil {
			s.logger.Error("Failed to register token with backend", "transition", c.Transition.String(), "err", err)
			return
		}
		if c.Transition == token.Changed && c.Previous != "" {
			// Unregister is idempotent on the backend; a failure only leaves a stale row.
			if err := s.UnregisterFCM(ctx, c.Previous); err != nil {
				s.logger.Warn("Failed to unregister superseded token", "err", err)
			}
		}
		s.logger.Info("Token synced with backend", "transition", c.Transition.String())
	})
	if err != nil {
		s.logger.Warn("Token sync dropped", "err", err)
	}
}

func (s *TokenSync) RegisterFCM(ctx context.Context, tok string) error {
	return s.post(ctx, "/api/v1/register/fcm", RegisterFCMRequest{Token: tok})
}

func (s *TokenSync) UnregisterFCM(ctx context.Context, tok string) error {
	return s.post(ctx, "/api/v1/unregister/fcm", RegisterFCMRequest{Token: tok})
}

func (s *TokenSync) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend rejected %s: status %d", path, resp.StatusCode)
	}
	return nil
}
