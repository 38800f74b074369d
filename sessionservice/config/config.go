// --- File: sessionservice/config/config.go ---
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
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

type DeviceConfig struct {
	Platform push.Platform
	Physical bool
	// OwnerURN identifies the user the device registers under.
	OwnerURN string
}

type BackendConfig struct {
	RegisterURL string
	AuthToken   string
}

type FirestoreConfig struct {
	ProjectID string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// FeedConfig is the Pub/Sub subscription that feeds cloud messages into the
// emulated platform. Empty SubscriptionID disables the feed.
type FeedConfig struct {
	ProjectID            string
	TopicID              string
	SubscriptionID       string
	DLQTopicID           string
	NumWorkers           int
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

type FCMConfig struct {
	ProjectID string
	ChannelID string
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	P8Path   string
	Sandbox  bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr  string
	IdentityURL string

	CorsConfig middleware.CorsConfig
	Device     DeviceConfig
	Backend    BackendConfig
	Firestore  FirestoreConfig
	Redis      RedisConfig
	Feed       FeedConfig
	FCM        FCMConfig
	APNS       APNSConfig
}

// Owner parses Device.OwnerURN.
func (c *Config) Owner() (urn.URN, error) {
	return urn.Parse(c.Device.OwnerURN)
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityURL = v })

	// Device
	override("PLATFORM", func(v string) { cfg.Device.Platform = push.Platform(strings.ToLower(v)) })
	override("DEVICE_PHYSICAL", func(v string) {
		if physical, err := strconv.ParseBool(v); err == nil {
			cfg.Device.Physical = physical
		}
	})
	override("DEVICE_OWNER_URN", func(v string) { cfg.Device.OwnerURN = v })

	// Registration sinks
	override("BACKEND_REGISTER_URL", func(v string) { cfg.Backend.RegisterURL = v })
	override("BACKEND_AUTH_TOKEN", func(v string) { cfg.Backend.AuthToken = v })
	override("FIRESTORE_PROJECT_ID", func(v string) { cfg.Firestore.ProjectID = v })

	// Redis Overrides
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Redis.Enabled = enabled
	})

	// Feed
	override("FEED_PROJECT_ID", func(v string) { cfg.Feed.ProjectID = v })
	override("FEED_TOPIC_ID", func(v string) { cfg.Feed.TopicID = v })
	override("FEED_SUBSCRIPTION_ID", func(v string) { cfg.Feed.SubscriptionID = v })
	override("FEED_DLQ_TOPIC_ID", func(v string) { cfg.Feed.DLQTopicID = v })
	override("NUM_FEED_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.Feed.NumWorkers = workers
		}
	})

	// Probes
	override("FCM_PROJECT_ID", func(v string) { cfg.FCM.ProjectID = v })
	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_PATH", func(v string) { cfg.APNS.P8Path = v })

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	switch cfg.Device.Platform {
	case "":
		cfg.Device.Platform = push.PlatformAndroid
	case push.PlatformAndroid, push.PlatformIOS, push.PlatformWeb:
	default:
		return fmt.Errorf("unknown platform %q (want android, ios or web)", cfg.Device.Platform)
	}

	if cfg.Device.OwnerURN != "" {
		// urn.Parse upgrades bare IDs to user URNs; config must be explicit.
		if !strings.HasPrefix(cfg.Device.OwnerURN, "urn:") {
			return fmt.Errorf("device owner_urn %q must be a full URN (urn:<namespace>:<type>:<id>)", cfg.Device.OwnerURN)
		}
		if _, err := cfg.Owner(); err != nil {
			return fmt.Errorf("device owner_urn is invalid: %w", err)
		}
	}
	if cfg.Firestore.ProjectID != "" && cfg.Device.OwnerURN == "" {
		return fmt.Errorf("owner_urn is required when firestore registration is enabled (set via YAML or DEVICE_OWNER_URN env var)")
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled (set via YAML or REDIS_ADDR env var)")
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}

	if cfg.Feed.SubscriptionID != "" {
		if cfg.Feed.ProjectID == "" {
			return fmt.Errorf("feed project_id is required when a feed subscription is set (set via YAML or FEED_PROJECT_ID env var)")
		}
		if cfg.Feed.NumWorkers <= 0 {
			cfg.Feed.NumWorkers = 1
		}
		cfg.Feed.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Feed.SubscriptionID)
	}

	if cfg.FCM.ChannelID == "" {
		cfg.FCM.ChannelID = push.DefaultChannelConfig().ID
	}
	return nil
}
