// --- File: sessionservice/service.go ---
package sessionservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/internal/api"
	"github.com/tinywideclouds/go-push-session/internal/feed"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushsession"
	"github.com/tinywideclouds/go-push-session/sessionservice/config"
)

var ErrFeedWithoutEmulator = errors.New("a cloud message feed requires the emulated platform")

// Emulator is the in-process platform backing the session. When set, its
// injection routes are mounted and the feed delivers into it.
type Emulator struct {
	Local *emulator.LocalNotifier
	Cloud *emulator.CloudMessaging
}

type Wrapper struct {
	*microservice.BaseServer
	coordinator *pushsession.Coordinator
	feedService *messagepipeline.StreamingService[push.RemoteMessage]
	logger      *slog.Logger
}

// New assembles the service. consumer may be nil, which disables the feed.
func New(
	cfg *config.Config,
	coordinator *pushsession.Coordinator,
	emu *Emulator,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Feed
	var feedService *messagepipeline.StreamingService[push.RemoteMessage]
	if consumer != nil {
		if emu == nil {
			return nil, ErrFeedWithoutEmulator
		}
		svc, err := feed.NewStreamingService(consumer, emu.Cloud, cfg.Feed.NumWorkers, logger)
		if err != nil {
			return nil, err
		}
		feedService = svc
	}

	// 3. Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	sessionAPI := api.NewSessionAPI(coordinator, logger)
	handle("GET /api/v1/session", sessionAPI.GetSession)
	handle("POST /api/v1/session", sessionAPI.OpenSession)
	handle("DELETE /api/v1/session", sessionAPI.EndSession)
	handle("GET /api/v1/session/token", sessionAPI.GetToken)
	handle("POST /api/v1/session/permission", sessionAPI.RenegotiatePermission)

	if emu != nil {
		emulatorAPI := api.NewEmulatorAPI(emu.Local, emu.Cloud, logger)
		handle("POST /api/v1/emulator/messages", emulatorAPI.PostMessage)
		handle("POST /api/v1/emulator/local", emulatorAPI.PostLocal)
		handle("POST /api/v1/emulator/token", emulatorAPI.PostToken)
		handle("GET /api/v1/emulator/presented", emulatorAPI.GetPresented)
	}

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:  baseServer,
		coordinator: coordinator,
		feedService: feedService,
		logger:      logger,
	}, nil
}

// Start opens the initial session, starts the feed and then serves HTTP.
// It blocks until the server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Opening initial push session...")
	s, err := w.coordinator.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open push session: %w", err)
	}
	w.logger.Info("Push session open", "session_id", s.ID(), "granted", s.Permission().Granted)

	if w.feedService != nil {
		w.logger.Info("Cloud message feed starting...")
		if err := w.feedService.Start(ctx); err != nil {
			w.coordinator.Close()
			return fmt.Errorf("failed to start cloud message feed: %w", err)
		}
	}

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.feedService != nil {
		if err := w.feedService.Stop(ctx); err != nil {
			w.logger.Error("Cloud message feed shutdown failed.", "err", err)
			finalErr = err
		}
	}
	w.coordinator.Close()
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
