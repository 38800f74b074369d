package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-session/internal/api"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushsession"
)

// --- Setup ---

type fixture struct {
	sessions *api.SessionAPI
	emulator *api.EmulatorAPI
	coord    *pushsession.Coordinator
	local    *emulator.LocalNotifier
	cloud    *emulator.CloudMessaging
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAPI(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	local := emulator.NewLocalNotifier(push.PermissionGranted, push.PermissionGranted, logger)
	cloud := emulator.NewCloudMessaging(push.AuthorizationAuthorized, "tok-1", logger)
	coord := pushsession.NewCoordinator(pushsession.Dependencies{
		Device: emulator.Device{Physical: true, OS: push.PlatformAndroid},
		Local:  local,
		Cloud:  cloud,
	}, pushsession.WithLogger(logger))
	t.Cleanup(coord.Close)

	return &fixture{
		sessions: api.NewSessionAPI(coord, logger),
		emulator: api.NewEmulatorAPI(local, cloud, logger),
		coord:    coord,
		local:    local,
		cloud:    cloud,
	}
}

func serve(h http.HandlerFunc, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) api.SessionResponse {
	t.Helper()
	var resp api.SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// --- Tests ---

func TestSessionLifecycle(t *testing.T) {
	f := setupAPI(t)

	t.Run("No session yet", func(t *testing.T) {
		w := serve(f.sessions.GetSession, http.MethodGet, "/api/v1/session", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	var sessionID string
	t.Run("Open", func(t *testing.T) {
		w := serve(f.sessions.OpenSession, http.MethodPost, "/api/v1/session", nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		resp := decodeSession(t, w)
		sessionID = resp.SessionID
		assert.NotEmpty(t, sessionID)
		require.NotNil(t, resp.Token)
		assert.Equal(t, "tok-1", *resp.Token)
		assert.True(t, resp.Permission.Granted)
		assert.Nil(t, resp.Notification)
		assert.Equal(t, "attached", resp.Listeners["token-refresh"])
	})

	t.Run("Open while active conflicts", func(t *testing.T) {
		w := serve(f.sessions.OpenSession, http.MethodPost, "/api/v1/session", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Token", func(t *testing.T) {
		w := serve(f.sessions.GetToken, http.MethodGet, "/api/v1/session/token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp api.TokenResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "tok-1", resp.Token)
	})

	t.Run("Notification is rendered", func(t *testing.T) {
		f.cloud.DeliverMessage(push.RemoteMessage{
			Notification: &push.RemoteNotification{Title: "A", Body: "B"},
			Data:         map[string]any{"k": "v"},
		})
		w := serve(f.sessions.GetSession, http.MethodGet, "/api/v1/session", nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeSession(t, w)
		assert.Equal(t, sessionID, resp.SessionID)
		require.NotNil(t, resp.Notification)
		assert.Equal(t, "A", resp.Notification.Title)
		assert.Equal(t, "B", resp.Notification.Body)
		assert.Equal(t, map[string]any{"k": "v"}, resp.Notification.Data)
		assert.Equal(t, push.OriginCloud, resp.Notification.Origin)
	})

	t.Run("End", func(t *testing.T) {
		w := serve(f.sessions.EndSession, http.MethodDelete, "/api/v1/session", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Zero(t, f.cloud.ListenerCount())

		w = serve(f.sessions.GetToken, http.MethodGet, "/api/v1/session/token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = serve(f.sessions.EndSession, http.MethodDelete, "/api/v1/session", nil)
		assert.Equal(t, http.StatusNoContent, w.Code, "ending twice is fine")
	})

	t.Run("Reopen gets a new session", func(t *testing.T) {
		w := serve(f.sessions.OpenSession, http.MethodPost, "/api/v1/session", nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.NotEqual(t, sessionID, decodeSession(t, w).SessionID)
	})
}

func TestGetTokenWithoutToken(t *testing.T) {
	f := setupAPI(t)
	f.cloud.SetTokenError(errors.New("unavailable"))
	_, err := f.coord.Open(t.Context())
	require.NoError(t, err)

	w := serve(f.sessions.GetToken, http.MethodGet, "/api/v1/session/token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no token")
}

func TestRenegotiatePermission(t *testing.T) {
	f := setupAPI(t)

	w := serve(f.sessions.RenegotiatePermission, http.MethodPost, "/api/v1/session/permission", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.local.SetPermissionError(errors.New("not ready"))
	_, err := f.coord.Open(t.Context())
	require.NoError(t, err)
	f.local.SetPermissionError(nil)

	w = serve(f.sessions.RenegotiatePermission, http.MethodPost, "/api/v1/session/permission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perm push.PermissionState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&perm))
	assert.True(t, perm.Granted)

	w = serve(f.sessions.GetToken, http.MethodGet, "/api/v1/session/token", nil)
	assert.Equal(t, http.StatusOK, w.Code, "token acquired after grant")
}
