package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlRelayConfig struct {
	EventTopicID           string `yaml:"event_topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	CommandTopicID         string `yaml:"command_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

type YamlClientConfig struct {
	Authorization    []string `yaml:"authorization"`
	Presentation     []string `yaml:"presentation"`
	DedupWindow      int      `yaml:"dedup_window"`
	QueueDepth       int      `yaml:"queue_depth"`
	AckBudget        string   `yaml:"ack_budget"`
	RegisterAtLaunch bool     `yaml:"register_at_launch"`
}

type YamlStoreConfig struct {
	Enabled bool `yaml:"enabled"`
}

type YamlBackendConfig struct {
	URL         string `yaml:"url"`
	BearerToken string `yaml:"bearer_token"`
}

type YamlProbeConfig struct {
	FCMEnabled bool           `yaml:"fcm_enabled"`
	APNS       YamlAPNSConfig `yaml:"apns"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID      string            `yaml:"project_id"`
	ListenAddr     string            `yaml:"listen_addr"`
	InstallationID string            `yaml:"installation_id"`
	UserURN        string            `yaml:"user_urn"`
	Relay          YamlRelayConfig   `yaml:"relay"`
	Client         YamlClientConfig  `yaml:"client"`
	Store          YamlStoreConfig   `yaml:"store"`
	CorsConfig     YamlCorsConfig    `yaml:"cors"`
	RedisConfig    YamlRedisConfig   `yaml:"redis"`
	Backend        YamlBackendConfig `yaml:"backend"`
	Probe          YamlProbeConfig   `yaml:"probe"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	authz, err := parseAuthorization(baseCfg.Client.Authorization)
	if err != nil {
		return nil, err
	}
	presentation, unknown := push.ParsePresentationOptions(baseCfg.Client.Presentation)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown presentation options: %v", unknown)
	}
	ackBudget, err := parseDuration("client.ack_budget", baseCfg.Client.AckBudget)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("redis.cache_ttl", baseCfg.RedisConfig.CacheTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		InstallationID: baseCfg.InstallationID,
		UserURN:        baseCfg.UserURN,
		Relay: RelayConfig{
			EventTopicID:           baseCfg.Relay.EventTopicID,
			SubscriptionID:         baseCfg.Relay.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.Relay.SubscriptionDLQTopicID,
			CommandTopicID:         baseCfg.Relay.CommandTopicID,
			NumPipelineWorkers:     baseCfg.Relay.NumPipelineWorkers,
		},
		Client: ClientConfig{
			Authorization:    authz,
			Presentation:     presentation,
			DedupWindow:      baseCfg.Client.DedupWindow,
			QueueDepth:       baseCfg.Client.QueueDepth,
			AckBudget:        ackBudget,
			RegisterAtLaunch: baseCfg.Client.RegisterAtLaunch,
		},
		StoreEnabled: baseCfg.Store.Enabled,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			CacheTTL: cacheTTL,
		},
		Backend: BackendConfig{
			URL:         baseCfg.Backend.URL,
			BearerToken: baseCfg.Backend.BearerToken,
		},
		FCMProbeEnabled: baseCfg.Probe.FCMEnabled,
		APNS: APNSConfig{
			KeyID:    baseCfg.Probe.APNS.KeyID,
			TeamID:   baseCfg.Probe.APNS.TeamID,
			BundleID: baseCfg.Probe.APNS.BundleID,
			Sandbox:  baseCfg.Probe.APNS.Sandbox,
		},
	}

	if cfg.Relay.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Relay.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.Relay.SubscriptionID,
	)

	return cfg, nil
}

func parseAuthorization(names []string) (push.AuthorizationOptions, error) {
	var opts push.AuthorizationOptions
	for _, n := range names {
		switch n {
		case "alert":
			opts.Alert = true
		case "badge":
			opts.Badge = true
		case "sound":
			opts.Sound = true
		default:
			return opts, fmt.Errorf("unknown authorization option %q", n)
		}
	}
	return opts, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
