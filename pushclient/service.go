package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-client/internal/api"
	"github.com/tinywideclouds/go-push-client/internal/relay"
	"github.com/tinywideclouds/go-push-client/internal/token"
	"github.com/tinywideclouds/go-push-client/pkg/push"
	"github.com/tinywideclouds/go-push-client/pushclient/config"
)

// Prober sends a diagnostic notification to target.
type Prober interface {
	Probe(ctx context.Context, target string, content notification.NotificationContent, data map[string]string) (string, error)
}

// Dependencies are the optional collaborators of the host service. Nil
// fields disable the matching feature.
type Dependencies struct {
	Consumer  messagepipeline.MessageConsumer
	Relay     *relay.Platform
	Store     push.TokenStore
	Sync      *api.TokenSync
	FCMProbe  Prober
	APNSProbe Prober
}

type Wrapper struct {
	*microservice.BaseServer
	client          *Client
	pipelineService *messagepipeline.StreamingService[relay.Envelope]
	persister       *token.Persister
	sync            *api.TokenSync
	logger          *slog.Logger
}

// TokenResponse is the body of GET /v1/token.
type TokenResponse struct {
	Token         string `json:"token"`
	PreviousToken string `json:"previous_token,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	HasToken     bool     `json:"has_token"`
	Subscribers  int      `json:"subscribers"`
	Presentation []string `json:"presentation"`
}

// ProbeRequest is the optional body of the probe routes.
type ProbeRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data"`
}

// ProbeResponse carries the push service's identifier for the sent probe.
type ProbeResponse struct {
	ID string `json:"id"`
}

// NewService assembles the host service around client.
func NewService(cfg *config.Config, client *Client, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Consumer == nil || deps.Relay == nil {
		return nil, fmt.Errorf("relay consumer and platform are required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Relay pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Relay.NumPipelineWorkers},
		deps.Consumer,
		relay.EnvelopeTransformer,
		relay.NewProcessor(client, deps.Relay, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	w := &Wrapper{
		BaseServer:      baseServer,
		client:          client,
		pipelineService: streamingService,
		sync:            deps.Sync,
		logger:          logger.With("component", "PushClientService"),
	}

	// 3. Token observers
	if deps.Store != nil {
		w.persister = token.NewPersister(deps.Store, client.Registry(), 0, logger)
		client.SubscribeToken(w.persister.Observe)
	}
	if deps.Sync != nil {
		client.SubscribeToken(deps.Sync.Observe)
	}
	client.Subscribe(func(ev push.Event) {
		w.logger.Info("Notification delivered", "event_id", ev.ID, "context", ev.Context.String())
	})

	// 4. Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	mux.Handle("GET /v1/token", corsMiddleware(http.HandlerFunc(w.handleToken)))
	mux.Handle("GET /v1/status", corsMiddleware(http.HandlerFunc(w.handleStatus)))
	if deps.FCMProbe != nil {
		mux.Handle("POST /v1/probe/fcm", corsMiddleware(w.probeHandler(deps.FCMProbe, client.CurrentToken)))
	}
	if deps.APNSProbe != nil {
		mux.Handle("POST /v1/probe/apns", corsMiddleware(w.probeHandler(deps.APNSProbe, client.DeviceIdentifier)))
	}
	mux.Handle("OPTIONS /v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return w, nil
}

func (w *Wrapper) handleToken(rw http.ResponseWriter, _ *http.Request) {
	tok, ok := w.client.CurrentToken()
	if !ok {
		response.WriteJSONError(rw, http.StatusNotFound, "no token issued")
		return
	}
	deviceID, _ := w.client.DeviceIdentifier()
	writeJSON(rw, http.StatusOK, TokenResponse{
		Token:         tok,
		PreviousToken: w.client.PreviousToken(),
		DeviceID:      deviceID,
	})
}

func (w *Wrapper) handleStatus(rw http.ResponseWriter, _ *http.Request) {
	_, hasToken := w.client.CurrentToken()
	writeJSON(rw, http.StatusOK, StatusResponse{
		HasToken:     hasToken,
		Subscribers:  w.client.Subscribers(),
		Presentation: w.client.Presentation().Names(),
	})
}

func (w *Wrapper) probeHandler(p Prober, target func() (string, bool)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		req := ProbeRequest{Title: "Test notification", Body: "Delivery probe"}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.WriteJSONError(rw, http.StatusBadRequest, "invalid probe body")
			return
		}

		to, ok := target()
		if !ok {
			response.WriteJSONError(rw, http.StatusConflict, push.ErrTokenNotFound.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		content := notification.NotificationContent{Title: req.Title, Body: req.Body, Sound: req.Sound}
		id, err := p.Probe(ctx, to, content, req.Data)
		switch {
		case err == nil:
			writeJSON(rw, http.StatusAccepted, ProbeResponse{ID: id})
		case errors.Is(err, push.ErrTokenNotFound):
			response.WriteJSONError(rw, http.StatusConflict, err.Error())
		case errors.Is(err, push.ErrTokenRejected):
			response.WriteJSONError(rw, http.StatusGone, err.Error())
		default:
			w.logger.Error("Probe failed", "err", err)
			response.WriteJSONError(rw, http.StatusBadGateway, "probe failed")
		}
	}
}

// Start restores the persisted token, starts the callback loop and the relay,
// then serves HTTP until shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.persister != nil {
		if err := w.persister.Restore(ctx); err != nil {
			// A cold cache is recoverable; the platform will reissue the token.
			w.logger.Warn("Token restore failed", "err", err)
		}
		w.persister.Start()
	}
	if w.sync != nil {
		w.sync.Start()
	}
	w.client.Start()

	w.logger.Info("Relay pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay pipeline: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var errs []error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Relay pipeline shutdown failed.", "err", err)
		errs = append(errs, err)
	}
	if err := w.client.Stop(ctx); err != nil {
		w.logger.Error("Callback loop drain failed.", "err", err)
		errs = append(errs, err)
	}
	if w.persister != nil {
		if err := w.persister.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if w.sync != nil {
		if err := w.sync.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		errs = append(errs, err)
	}
	w.logger.Info("Service shutdown complete.")
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
