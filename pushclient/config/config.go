package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// RelayConfig names the Pub/Sub resources shared with the native shell.
type RelayConfig struct {
	EventTopicID           string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	CommandTopicID         string
	NumPipelineWorkers     int
}

type ClientConfig struct {
	Authorization    push.AuthorizationOptions
	Presentation     push.PresentationOptions
	DedupWindow      int
	QueueDepth       int
	AckBudget        time.Duration
	RegisterAtLaunch bool
}

type BackendConfig struct {
	URL         string
	BearerToken string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

// Enabled reports whether enough credentials are present to build a prober.
func (c APNSConfig) Enabled() bool {
	return c.P8KeyContent != "" && c.KeyID != "" && c.TeamID != "" && c.BundleID != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID      string
	ListenAddr     string
	InstallationID string
	UserURN        string

	Relay  RelayConfig
	Client ClientConfig

	StoreEnabled bool
	CorsConfig   middleware.CorsConfig
	Redis        RedisConfig
	Backend      BackendConfig

	FCMProbeEnabled bool
	APNS            APNSConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("INSTALLATION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INSTALLATION_ID", "source", "env")
		cfg.InstallationID = val
	}
	if val := os.Getenv("USER_URN"); val != "" {
		logger.Debug("Overriding config value", "key", "USER_URN", "source", "env")
		cfg.UserURN = val
	}

	// Relay Overrides
	if val := os.Getenv("RELAY_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "RELAY_TOPIC_ID", "source", "env")
		cfg.Relay.EventTopicID = val
	}
	if val := os.Getenv("RELAY_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "RELAY_SUBSCRIPTION_ID", "source", "env")
		cfg.Relay.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("RELAY_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "RELAY_DLQ_TOPIC_ID", "source", "env")
		cfg.Relay.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("RELAY_COMMAND_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "RELAY_COMMAND_TOPIC_ID", "source", "env")
		cfg.Relay.CommandTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.Relay.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("ACK_BUDGET"); val != "" {
		budget, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ACK_BUDGET: %w", err)
		}
		logger.Debug("Overriding config value", "key", "ACK_BUDGET", "source", "env")
		cfg.Client.AckBudget = budget
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Backend Overrides
	if val := os.Getenv("BACKEND_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "BACKEND_URL", "source", "env")
		cfg.Backend.URL = val
	}
	if val := os.Getenv("BACKEND_BEARER_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "BACKEND_BEARER_TOKEN", "source", "env")
		cfg.Backend.BearerToken = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.InstallationID == "" {
		return nil, fmt.Errorf("installation_id is required (set via YAML or INSTALLATION_ID env var)")
	}
	if cfg.Relay.SubscriptionID == "" {
		return nil, fmt.Errorf("relay subscription_id is required (set via YAML or RELAY_SUBSCRIPTION_ID env var)")
	}
	if cfg.Relay.CommandTopicID == "" {
		return nil, fmt.Errorf("relay command_topic_id is required (set via YAML or RELAY_COMMAND_TOPIC_ID env var)")
	}
	if cfg.StoreEnabled && cfg.UserURN == "" {
		return nil, fmt.Errorf("user_urn is required when the token store is enabled")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	// One worker keeps relayed callbacks in publish order.
	if cfg.Relay.NumPipelineWorkers <= 0 {
		cfg.Relay.NumPipelineWorkers = 1
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Relay.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
