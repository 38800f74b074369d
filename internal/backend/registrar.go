// Package backend forwards device tokens to the application backend over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// registerRequest is the body accepted by the backend's register endpoint.
type registerRequest struct {
	Token     string `json:"token"`
	Platform  string `json:"platform,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// HTTPRegistrar implements push.TokenRegistrar against a JSON endpoint.
type HTTPRegistrar struct {
	client    *http.Client
	url       string
	authToken string
	platform  string
	sessionID string
	logger    *slog.Logger
}

// Option configures an HTTPRegistrar.
type Option func(*HTTPRegistrar)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRegistrar) { r.client = c }
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) Option {
	return func(r *HTTPRegistrar) { r.authToken = token }
}

// WithDevice tags registrations with the device platform and session.
func WithDevice(platform, sessionID string) Option {
	return func(r *HTTPRegistrar) {
		r.platform = platform
		r.sessionID = sessionID
	}
}

func NewHTTPRegistrar(url string, logger *slog.Logger, opts ...Option) *HTTPRegistrar {
	r := &HTTPRegistrar{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		logger: logger.With("component", "HTTPRegistrar"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HTTPRegistrar) Register(ctx context.Context, token string) error {
	body, err := json.Marshal(registerRequest{Token: token, Platform: r.platform, SessionID: r.sessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("register request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend rejected token: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	r.logger.Debug("Token registered with backend", "status", resp.StatusCode)
	return nil
}
