package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-session/internal/adapter"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
)

const maxPayloadBytes = 64 << 10

// EmulatorAPI injects platform events into the emulated platform.
type EmulatorAPI struct {
	Local  *emulator.LocalNotifier
	Cloud  *emulator.CloudMessaging
	Logger *slog.Logger
}

func NewEmulatorAPI(local *emulator.LocalNotifier, cloud *emulator.CloudMessaging, logger *slog.Logger) *EmulatorAPI {
	return &EmulatorAPI{
		Local:  local,
		Cloud:  cloud,
		Logger: logger.With("component", "EmulatorAPI"),
	}
}

type DeliveryResponse struct {
	Listeners int `json:"listeners"`
}

type RotateTokenRequest struct {
	Token string `json:"token"`
}

// PostMessage handles POST /api/v1/emulator/messages. The body is a raw
// cloud message; ?state selects foreground (default), background or initial.
func (api *EmulatorAPI) PostMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	msg, err := adapter.DecodeRemoteMessage(body)
	if err != nil {
		api.Logger.Warn("PostMessage: decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	switch state := r.URL.Query().Get("state"); state {
	case "", "foreground":
		writeJSON(w, http.StatusAccepted, DeliveryResponse{Listeners: api.Cloud.DeliverMessage(msg)})
	case "background":
		writeJSON(w, http.StatusAccepted, DeliveryResponse{Listeners: api.Cloud.DeliverOpened(msg)})
	case "initial":
		// Reported to the next session that starts.
		api.Cloud.SetInitialNotification(&msg, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		response.WriteJSONError(w, http.StatusBadRequest, "unknown state: "+state)
	}
}

// PostLocal handles POST /api/v1/emulator/local.
func (api *EmulatorAPI) PostLocal(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	n, err := adapter.DecodeLocalNotification(body)
	if err != nil {
		api.Logger.Warn("PostLocal: decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	writeJSON(w, http.StatusAccepted, DeliveryResponse{Listeners: api.Local.DeliverLocal(n)})
}

// PostToken handles POST /api/v1/emulator/token, rotating the device token.
func (api *EmulatorAPI) PostToken(w http.ResponseWriter, r *http.Request) {
	var req RotateTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	writeJSON(w, http.StatusAccepted, DeliveryResponse{Listeners: api.Cloud.RotateToken(req.Token)})
}

// GetPresented handles GET /api/v1/emulator/presented.
func (api *EmulatorAPI) GetPresented(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Local.Presented())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	return body, true
}
