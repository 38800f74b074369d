// Package token acquires the device messaging token and applies rotations.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-session/internal/state"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Manager is the only writer of the session token.
type Manager struct {
	cloud     push.CloudMessaging
	store     *state.Store
	registrar push.TokenRegistrar
	logger    *slog.Logger
}

// NewManager creates a Manager. registrar may be nil.
func NewManager(cloud push.CloudMessaging, store *state.Store, registrar push.TokenRegistrar, logger *slog.Logger) *Manager {
	return &Manager{
		cloud:     cloud,
		store:     store,
		registrar: registrar,
		logger:    logger.With("component", "TokenManager"),
	}
}

// Acquire fetches the current token. Failures are logged and reported as
// ok=false; there is no retry. A refresh event applied while the fetch was in
// flight wins over the fetched value.
func (m *Manager) Acquire(ctx context.Context) (string, bool) {
	version := m.store.TokenVersion()

	tok, err := m.cloud.GetToken(ctx)
	if err == nil && tok == "" {
		err = errors.New("empty token")
	}
	if err != nil {
		m.logger.Error("Failed to get messaging token", "err", fmt.Errorf("%w: %w", push.ErrTokenAcquisitionFailed, err))
		return "", false
	}

	m.logger.Info("Messaging token acquired", "token_prefix", truncate(tok, 12))
	if !m.store.SetTokenIfVersion(tok, version) {
		m.logger.Debug("Acquired token superseded or session ended; not stored")
		return tok, true
	}
	m.forward(ctx, tok)
	return tok, true
}

// HandleRefresh applies a token rotation event.
func (m *Manager) HandleRefresh(ctx context.Context, tok string) {
	if tok == "" {
		m.logger.Warn("Ignoring empty refreshed token")
		return
	}
	if !m.store.SetToken(tok) {
		return
	}
	m.logger.Info("Messaging token refreshed", "token_prefix", truncate(tok, 12))
	m.forward(ctx, tok)
}

func (m *Manager) forward(ctx context.Context, tok string) {
	if m.registrar == nil {
		m.logger.Debug("No backend registrar configured; token not forwarded")
		return
	}
	if err := m.registrar.Register(ctx, tok); err != nil {
		m.logger.Warn("Failed to forward token to backend", "err", err)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
