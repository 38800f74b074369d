package cmd

import (
	"context"
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
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-session/internal/backend"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-session/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushsession"
	"github.com/tinywideclouds/go-push-session/sessionservice"
	"github.com/tinywideclouds/go-push-session/sessionservice/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a push session on the emulated platform behind the HTTP API",
	Long: `Run opens a push session against an in-process platform and serves its
state over HTTP. Tokens are forwarded to the configured registration sinks
and, when a feed subscription is set, cloud messages published to Pub/Sub
are delivered into the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(logger)
		if err != nil {
			return fmt.Errorf("config failed: %w", err)
		}
		return runService(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	instanceID := uuid.NewString()
	logger = logger.With("instance_id", instanceID)

	// --- Emulated Platform ---
	emu := &sessionservice.Emulator{
		Local: emulator.NewLocalNotifier(push.PermissionUndetermined, push.PermissionGranted, logger),
		Cloud: emulator.NewCloudMessaging(push.AuthorizationAuthorized, emulator.NewToken(), logger),
	}
	device := emulator.Device{Physical: cfg.Device.Physical, OS: cfg.Device.Platform}
	logger.Info("Emulated platform ready", "platform", device.OS, "physical", device.Physical)

	// --- Token Registration ---
	registrar, closeRegistrar, err := newRegistrar(ctx, cfg, instanceID, logger)
	if err != nil {
		return err
	}
	defer closeRegistrar()

	coordinator := pushsession.NewCoordinator(pushsession.Dependencies{
		Device:    device,
		Local:     emu.Local,
		Cloud:     emu.Cloud,
		Registrar: registrar,
	},
		pushsession.WithLogger(logger),
		pushsession.WithChannel(channelFor(cfg)),
	)

	// --- Auth ---
	authMiddleware, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		return err
	}

	// --- Feed ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Feed.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Feed.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		consumer, err = newFeedConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
		logger.Info("Cloud message feed enabled", "subscription", cfg.Feed.SubscriptionID)
	}

	service, err := sessionservice.New(cfg, coordinator, emu, consumer, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("service stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func channelFor(cfg *config.Config) push.ChannelConfig {
	channel := push.DefaultChannelConfig()
	if cfg.FCM.ChannelID != "" {
		channel.ID = cfg.FCM.ChannelID
		channel.Name = cfg.FCM.ChannelID
	}
	return channel
}

// newRegistrar assembles the configured sinks. It returns a nil registrar
// when none are configured.
func newRegistrar(ctx context.Context, cfg *config.Config, instanceID string, logger *slog.Logger) (push.TokenRegistrar, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var sinks push.Registrars
	if cfg.Backend.RegisterURL != "" {
		sinks = append(sinks, backend.NewHTTPRegistrar(cfg.Backend.RegisterURL, logger,
			backend.WithBearerToken(cfg.Backend.AuthToken),
			backend.WithDevice(string(cfg.Device.Platform), instanceID),
		))
		logger.Info("Token sink enabled", "type", "http", "url", cfg.Backend.RegisterURL)
	}

	if cfg.Firestore.ProjectID != "" {
		owner, err := cfg.Owner()
		if err != nil {
			return nil, cleanup, err
		}
		fsClient, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, cleanup, fmt.Errorf("firestore client failed: %w", err)
		}
		closers = append(closers, func() { _ = fsClient.Close() })

		store := fsStore.NewDeviceStore(fsClient, logger)
		sinks = append(sinks, store.Registrar(owner, cfg.Device.Platform, instanceID))
		logger.Info("Token sink enabled", "type", "firestore", "owner", owner.String())
	}

	if len(sinks) == 0 {
		logger.Warn("No token sinks configured; tokens stay local to the session")
		return nil, cleanup, nil
	}

	logger.Warn("Emulated tokens will be registered to real sinks; they are not deliverable",
		"token_prefix", emulator.TokenPrefix, "sinks", len(sinks))

	var registrar push.TokenRegistrar = sinks
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis dedup layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		scope := string(cfg.Device.Platform)
		if cfg.Device.OwnerURN != "" {
			scope = cfg.Device.OwnerURN + ":" + scope
		}
		registrar = cache.NewDedupRegistrar(registrar, redisClient, scope, cfg.Redis.TTL, logger)
		logger.Info("Token registration upgraded", "type", "redis_dedup")
	}
	return registrar, cleanup, nil
}

func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.IdentityURL == "" {
		logger.Warn("No identity service configured; API is unauthenticated")
		return func(h http.Handler) http.Handler { return h }, nil
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("jwt config discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return nil, fmt.Errorf("jwks middleware failed: %w", err)
	}
	return authMiddleware, nil
}

// newFeedConsumer ensures the feed subscription exists when a topic is
// configured, then returns a consumer for it.
func newFeedConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	if cfg.Feed.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:               pubsubName(cfg.Feed.ProjectID, "subscriptions", cfg.Feed.SubscriptionID),
			Topic:              pubsubName(cfg.Feed.ProjectID, "topics", cfg.Feed.TopicID),
			AckDeadlineSeconds: 10,
		}
		if cfg.Feed.DLQTopicID != "" {
			subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
				DeadLetterTopic:     pubsubName(cfg.Feed.ProjectID, "topics", cfg.Feed.DLQTopicID),
				MaxDeliveryAttempts: 5,
			}
		}
		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		if _, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig); err != nil {
			if status.Code(err) != codes.AlreadyExists {
				return nil, fmt.Errorf("could not create subscription %s: %w", subConfig.Name, err)
			}
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		}
	}

	consumer, err := messagepipeline.NewGooglePubsubConsumer(cfg.Feed.PubsubConsumerConfig, psClient, logger)
	if err != nil {
		return nil, fmt.Errorf("feed consumer failed: %w", err)
	}
	return consumer, nil
}

func pubsubName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
