// --- File: sessionservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlDeviceConfig struct {
	Platform string `yaml:"platform"`
	Physical bool   `yaml:"physical"`
	OwnerURN string `yaml:"owner_urn"`
}

type YamlBackendConfig struct {
	RegisterURL string `yaml:"register_url"`
}

type YamlRedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
}

type YamlFeedConfig struct {
	ProjectID      string `yaml:"project_id"`
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic_id"`
	NumWorkers     int    `yaml:"num_workers"`
}

type YamlFCMConfig struct {
	ProjectID string `yaml:"project_id"`
	ChannelID string `yaml:"channel_id"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	P8Path   string `yaml:"p8_path"`
	Sandbox  bool   `yaml:"sandbox"`
}

// YamlConfig is the structure that mirrors the raw local.yaml file.
type YamlConfig struct {
	ListenAddr         string            `yaml:"listen_addr"`
	IdentityURL        string            `yaml:"identity_url"`
	FirestoreProjectID string            `yaml:"firestore_project_id"`
	CorsConfig         YamlCorsConfig    `yaml:"cors"`
	Device             YamlDeviceConfig  `yaml:"device"`
	Backend            YamlBackendConfig `yaml:"backend"`
	RedisConfig        YamlRedisConfig   `yaml:"redis"`
	Feed               YamlFeedConfig    `yaml:"feed"`
	FCM                YamlFCMConfig     `yaml:"fcm"`
	APNS               YamlAPNSConfig    `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ListenAddr:  baseCfg.ListenAddr,
		IdentityURL: baseCfg.IdentityURL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Device: DeviceConfig{
			Platform: push.Platform(baseCfg.Device.Platform),
			Physical: baseCfg.Device.Physical,
			OwnerURN: baseCfg.Device.OwnerURN,
		},
		Backend: BackendConfig{
			RegisterURL: baseCfg.Backend.RegisterURL,
		},
		Firestore: FirestoreConfig{
			ProjectID: baseCfg.FirestoreProjectID,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      baseCfg.RedisConfig.TTL,
		},
		Feed: FeedConfig{
			ProjectID:      baseCfg.Feed.ProjectID,
			TopicID:        baseCfg.Feed.TopicID,
			SubscriptionID: baseCfg.Feed.SubscriptionID,
			DLQTopicID:     baseCfg.Feed.DLQTopicID,
			NumWorkers:     baseCfg.Feed.NumWorkers,
		},
		FCM: FCMConfig{
			ProjectID: baseCfg.FCM.ProjectID,
			ChannelID: baseCfg.FCM.ChannelID,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNS.KeyID,
			TeamID:   baseCfg.APNS.TeamID,
			BundleID: baseCfg.APNS.BundleID,
			P8Path:   baseCfg.APNS.P8Path,
			Sandbox:  baseCfg.APNS.Sandbox,
		},
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"platform", cfg.Device.Platform,
		"feed_subscription", cfg.Feed.SubscriptionID,
	)

	return cfg, nil
}
