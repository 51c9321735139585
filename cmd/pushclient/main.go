package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-client/internal/api"
	"github.com/tinywideclouds/go-push-client/internal/platform/apns"
	"github.com/tinywideclouds/go-push-client/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-client/internal/relay"
	"github.com/tinywideclouds/go-push-client/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-client/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-client/pkg/push"

	"github.com/tinywideclouds/go-push-client/pushclient"
	"github.com/tinywideclouds/go-push-client/pushclient/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-client")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Relay ---
	publisher := relay.NewPubsubPublisher(psClient, cfg.Relay.CommandTopicID)
	defer publisher.Stop()
	platform := relay.NewPlatform(publisher, logger)

	consumer, err := newRelayConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Relay consumer failed", "err", err)
		os.Exit(1)
	}

	// --- Client core ---
	client := pushclient.New(pushclient.Platform{
		Authorization: platform,
		Registrar:     platform,
		Messaging:     platform,
	}, pushclient.Options{
		Authorization:    cfg.Client.Authorization,
		Presentation:     cfg.Client.Presentation,
		DedupWindow:      cfg.Client.DedupWindow,
		QueueDepth:       cfg.Client.QueueDepth,
		AckBudget:        cfg.Client.AckBudget,
		RegisterAtLaunch: cfg.Client.RegisterAtLaunch,
	}, logger)

	deps := pushclient.Dependencies{Consumer: consumer, Relay: platform}

	// --- Token Store (Decorated) ---
	if cfg.StoreEnabled {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()

		owner, err := urn.Parse(cfg.UserURN)
		if err != nil {
			logger.Error("Invalid user URN", "urn", cfg.UserURN, "err", err)
			os.Exit(1)
		}
		var tokenStore push.TokenStore = fsStore.NewFirestoreStore(fsClient, owner, cfg.InstallationID)
		logger.Info("TokenStore initialized", "type", "firestore")

		if cfg.Redis.Enabled {
			logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
			redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				logger.Error("Failed to connect to Redis", "err", err)
				os.Exit(1)
			}
			defer redisClient.Close()
			tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.InstallationID, cfg.Redis.CacheTTL)
			logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")
		}
		deps.Store = tokenStore
	} else if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deps.Store = cache.NewRedisTokenStore(redisClient, cfg.InstallationID)
		logger.Info("TokenStore initialized", "type", "redis")
	}

	// --- Backend sync ---
	if cfg.Backend.URL != "" {
		deps.Sync = api.NewTokenSync(cfg.Backend.URL, cfg.Backend.BearerToken, &http.Client{Timeout: 10 * time.Second}, logger)
		logger.Info("Backend token sync enabled", "url", cfg.Backend.URL)
	}

	// --- Probes ---
	if cfg.FCMProbeEnabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Failed to initialize Firebase App", "err", err)
			os.Exit(1)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create FCM messaging client", "err", err)
			os.Exit(1)
		}
		deps.FCMProbe = fcm.NewProber(fcmMessaging, logger)
	}
	if cfg.APNS.Enabled() {
		apnsProber, err := apns.NewProber(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize APNs prober", "err", err)
			os.Exit(1)
		}
		deps.APNSProbe = apnsProber
	}

	service, err := pushclient.NewService(cfg, client, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newRelayConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	if cfg.Relay.EventTopicID == "" {
		logger.Info("No relay event topic configured; expecting an existing subscription", "sub", sub)
		return messagepipeline.NewGooglePubsubConsumer(
			messagepipeline.NewGooglePubsubConsumerDefaults(sub), psClient, logger,
		)
	}
	topicID := convertPubsub(cfg.ProjectID, cfg.Relay.EventTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(time.Second),
			MaximumBackoff: durationpb.New(30 * time.Second),
		},
		MessageRetentionDuration: durationpb.New(24 * time.Hour),
		// The shell publishes under one ordering key so callbacks arrive in order.
		EnableMessageOrdering: true,
	}
	if cfg.Relay.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Relay.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
