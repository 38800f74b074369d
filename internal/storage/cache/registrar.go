// Package cache suppresses repeated backend registrations of the same token.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

var ErrMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss when the key does not exist.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type registration struct {
	Token        string    `json:"token"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DedupRegistrar is a decorator that forwards a token only when it differs
// from the last one registered for scope within ttl.
type DedupRegistrar struct {
	next   push.TokenRegistrar
	cache  CacheClient
	scope  string
	ttl    time.Duration
	logger *slog.Logger
}

func NewDedupRegistrar(next push.TokenRegistrar, cache CacheClient, scope string, ttl time.Duration, logger *slog.Logger) *DedupRegistrar {
	return &DedupRegistrar{
		next:   next,
		cache:  cache,
		scope:  scope,
		ttl:    ttl,
		logger: logger.With("component", "DedupRegistrar"),
	}
}

func (r *DedupRegistrar) Register(ctx context.Context, token string) error {
	key := r.cacheKey()

	var last registration
	err := r.cache.Get(ctx, key, &last)
	switch {
	case err == nil && last.Token == token:
		r.logger.Debug("Token already registered; skipping", "registered_at", last.RegisteredAt)
		return nil
	case err != nil && !errors.Is(err, ErrMiss):
		// A broken cache must not block registration.
		r.logger.Warn("Registration cache read failed", "err", err)
	}

	if err := r.next.Register(ctx, token); err != nil {
		return err
	}

	if err := r.cache.Set(ctx, key, registration{Token: token, RegisteredAt: time.Now()}, r.ttl); err != nil {
		r.logger.Warn("Failed to record registration", "err", err)
	}
	return nil
}

func (r *DedupRegistrar) cacheKey() string {
	return fmt.Sprintf("push:registered:%s", r.scope)
}
