// Package pushsession exposes a device's push notification capability as a
// single session: permission negotiation, token acquisition and refresh, and
// one merged stream of local and cloud notifications.
package pushsession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-session/internal/adapter"
	"github.com/tinywideclouds/go-push-session/internal/listeners"
	"github.com/tinywideclouds/go-push-session/internal/permission"
	"github.com/tinywideclouds/go-push-session/internal/state"
	"github.com/tinywideclouds/go-push-session/internal/token"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

var (
	ErrSessionStarted = errors.New("session already started")
	ErrSessionEnded   = errors.New("session ended")
)

// Snapshot is the observable session state: the token and the latest
// notification, each absent until first set.
type Snapshot = state.Snapshot

// Dependencies are the platform collaborators of a session. Registrar,
// OpenHandler and ResponseHandler are optional.
type Dependencies struct {
	Device          push.Device
	Local           push.LocalNotifier
	Cloud           push.CloudMessaging
	Registrar       push.TokenRegistrar
	OpenHandler     push.OpenHandler
	ResponseHandler push.ResponseHandler
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	channel      push.ChannelConfig
	presentation push.PresentationOptions
}

// WithLogger sets the logger used by the session and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithChannel overrides the Android notification channel.
func WithChannel(channel push.ChannelConfig) Option {
	return func(o *options) { o.channel = channel }
}

// WithPresentation overrides the foreground presentation options.
func WithPresentation(p push.PresentationOptions) Option {
	return func(o *options) { o.presentation = p }
}

type phase int

const (
	phaseNew phase = iota
	phaseStarted
	phaseEnded
)

// Session is owned by one UI scope and lives exactly as long as it.
type Session struct {
	id     string
	deps   Dependencies
	opts   options
	logger *slog.Logger

	store      *state.Store
	negotiator *permission.Negotiator
	tokens     *token.Manager
	registry   *listeners.Registry

	// negotiating serializes negotiate so overlapping calls never run
	// two token acquisitions.
	negotiating sync.Mutex

	mu         sync.Mutex
	phase      phase
	permission push.PermissionState
	attachErrs []error
}

// New builds a session. Nothing is attached until Start.
func New(deps Dependencies, opts ...Option) *Session {
	o := options{
		logger:       slog.Default(),
		channel:      push.DefaultChannelConfig(),
		presentation: push.DefaultPresentationOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	logger := o.logger.With("session_id", id)
	store := state.NewStore()
	tokens := token.NewManager(deps.Cloud, store, deps.Registrar, logger)
	channelAdapter := adapter.New(deps.Local, store, logger)

	return &Session{
		id:         id,
		deps:       deps,
		opts:       o,
		logger:     logger.With("component", "Session"),
		store:      store,
		negotiator: permission.NewNegotiator(deps.Device, deps.Local, deps.Cloud, logger),
		tokens:     tokens,
		registry: listeners.NewRegistry(listeners.Config{
			Local:           deps.Local,
			Cloud:           deps.Cloud,
			Tokens:          tokens,
			Adapter:         channelAdapter,
			OpenHandler:     deps.OpenHandler,
			ResponseHandler: deps.ResponseHandler,
		}, logger),
		permission: push.PermissionState{Granted: false},
	}
}

// ID identifies the session in logs and API responses.
func (s *Session) ID() string { return s.id }

// Start configures the platform, attaches every listener, negotiates
// permission and, when granted, acquires the initial token. Permission,
// token and listener failures are logged and reflected in state; they are
// never returned. Start blocks on platform calls; bound it with ctx.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case phaseStarted:
		s.mu.Unlock()
		return ErrSessionStarted
	case phaseEnded:
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.phase = phaseStarted
	s.mu.Unlock()

	s.logger.Info("Push session starting")
	s.configurePlatform(ctx)

	if errs := s.registry.Attach(ctx); len(errs) > 0 {
		s.mu.Lock()
		s.attachErrs = errs
		s.mu.Unlock()
		s.logger.Warn("Some listeners failed to attach", "failed", len(errs))
	}

	s.negotiate(ctx)
	return nil
}

func (s *Session) configurePlatform(ctx context.Context) {
	if err := s.deps.Local.SetPresentationOptions(s.opts.presentation); err != nil {
		s.logger.Warn("Failed to set presentation options", "err", err)
	}
	if s.deps.Device.Platform() != push.PlatformAndroid {
		return
	}
	if err := s.deps.Local.SetNotificationChannel(ctx, s.opts.channel); err != nil {
		s.logger.Warn("Failed to configure notification channel", "channel", s.opts.channel.ID, "err", err)
	}
}

func (s *Session) negotiate(ctx context.Context) push.PermissionState {
	s.negotiating.Lock()
	defer s.negotiating.Unlock()

	perm := s.negotiator.Negotiate(ctx)

	s.mu.Lock()
	s.permission = perm
	ended := s.phase == phaseEnded
	s.mu.Unlock()

	if !perm.Granted {
		s.logger.Warn("Push notifications unavailable", "err", perm.Err())
		return perm
	}
	if ended {
		return perm
	}
	if _, ok := s.store.Snapshot().TokenValue(); !ok {
		s.tokens.Acquire(ctx)
	}
	return perm
}

// Renegotiate re-runs permission negotiation on request; permission is
// never re-checked automatically. A newly granted session without a token
// acquires one.
func (s *Session) Renegotiate(ctx context.Context) push.PermissionState {
	s.mu.Lock()
	if s.phase != phaseStarted {
		perm := s.permission
		s.mu.Unlock()
		return perm
	}
	s.mu.Unlock()
	return s.negotiate(ctx)
}

// End releases every listener and freezes the state. Results of in-flight
// permission or token calls that complete later are discarded. End is
// idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.phase == phaseEnded {
		s.mu.Unlock()
		return
	}
	s.phase = phaseEnded
	s.mu.Unlock()

	s.registry.Release()
	s.store.Close()
	s.logger.Info("Push session ended")
}

// Ended reports whether End has run.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseEnded
}

// Token returns the current device token, if one has been acquired.
func (s *Session) Token() (string, bool) {
	return s.store.Snapshot().TokenValue()
}

// Notification returns the most recently observed notification.
func (s *Session) Notification() (push.NormalizedNotification, bool) {
	snap := s.store.Snapshot()
	if snap.Notification == nil {
		return push.NormalizedNotification{}, false
	}
	return *snap.Notification, true
}

// Snapshot returns both observable fields at once.
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Subscribe delivers a snapshot after every state change until the returned
// cancel func runs or the session ends.
func (s *Session) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return s.store.Subscribe(buffer)
}

// Permission returns the outcome of the latest negotiation.
func (s *Session) Permission() push.PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// AttachErrors returns the listener attach failures of Start.
func (s *Session) AttachErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.attachErrs))
	copy(out, s.attachErrs)
	return out
}

// ListenerStates reports every listener's lifecycle state by source name.
func (s *Session) ListenerStates() map[string]string {
	states := s.registry.States()
	out := make(map[string]string, len(states))
	for src, st := range states {
		out[string(src)] = st.String()
	}
	return out
}

// Wait blocks until the background initial-notification check finishes.
func (s *Session) Wait() {
	s.registry.Wait()
}
