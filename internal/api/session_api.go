// Package api exposes the session state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushsession"
)

// Sessions is the session lifecycle the API drives. *pushsession.Coordinator
// satisfies it.
type Sessions interface {
	Open(ctx context.Context) (*pushsession.Session, error)
	Active() (*pushsession.Session, bool)
	Close()
}

type SessionAPI struct {
	Sessions Sessions
	Logger   *slog.Logger
}

func NewSessionAPI(sessions Sessions, logger *slog.Logger) *SessionAPI {
	return &SessionAPI{
		Sessions: sessions,
		Logger:   logger.With("component", "SessionAPI"),
	}
}

// SessionResponse is the UI consumer view of a session.
type SessionResponse struct {
	SessionID    string                 `json:"sessionId"`
	Token        *string                `json:"token,omitempty"`
	Notification *push.NotificationView `json:"notification,omitempty"`
	Permission   push.PermissionState   `json:"permission"`
	Listeners    map[string]string      `json:"listeners"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func newSessionResponse(s *pushsession.Session) SessionResponse {
	snap := s.Snapshot()
	resp := SessionResponse{
		SessionID:  s.ID(),
		Token:      snap.Token,
		Permission: s.Permission(),
		Listeners:  s.ListenerStates(),
	}
	if snap.Notification != nil {
		view := snap.Notification.View()
		resp.Notification = &view
	}
	return resp
}

// GetSession handles GET /api/v1/session.
func (api *SessionAPI) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := api.Sessions.Active()
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// GetToken handles GET /api/v1/session/token, the copy-token use case.
func (api *SessionAPI) GetToken(w http.ResponseWriter, r *http.Request) {
	s, ok := api.Sessions.Active()
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "no active session")
		return
	}
	tok, ok := s.Token()
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "no token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

// OpenSession handles POST /api/v1/session.
func (api *SessionAPI) OpenSession(w http.ResponseWriter, r *http.Request) {
	// The session outlives the request; only its start is bounded by it.
	s, err := api.Sessions.Open(context.WithoutCancel(r.Context()))
	if errors.Is(err, pushsession.ErrSessionActive) {
		response.WriteJSONError(w, http.StatusConflict, "session already active")
		return
	}
	if err != nil {
		api.Logger.Error("Failed to open session", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	api.Logger.Info("Session opened", "session_id", s.ID())
	writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

// EndSession handles DELETE /api/v1/session. Ending with no active session
// is not an error.
func (api *SessionAPI) EndSession(w http.ResponseWriter, r *http.Request) {
	api.Sessions.Close()
	w.WriteHeader(http.StatusNoContent)
}

// RenegotiatePermission handles POST /api/v1/session/permission.
func (api *SessionAPI) RenegotiatePermission(w http.ResponseWriter, r *http.Request) {
	s, ok := api.Sessions.Active()
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, s.Renegotiate(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
