// --- File: internal/adapter/decode.go ---
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// DecodeRemoteMessage parses the cloud message wire shape
//
//	{"messageId": "...", "notification": {"title": "...", "body": "..."}, "data": {...}}
//
// Fields with an unexpected type fall back to their defaults; only input that
// is not a JSON object is rejected.
func DecodeRemoteMessage(payload []byte) (push.RemoteMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return push.RemoteMessage{}, fmt.Errorf("%w: %w", push.ErrMalformedPayload, err)
	}
	if raw == nil {
		return push.RemoteMessage{}, fmt.Errorf("%w: payload is null", push.ErrMalformedPayload)
	}

	msg := push.RemoteMessage{
		MessageID: stringField(raw, "messageId"),
		Data:      mapField(raw, "data"),
	}
	if n, ok := raw["notification"].(map[string]any); ok {
		msg.Notification = &push.RemoteNotification{
			Title: stringField(n, "title"),
			Body:  stringField(n, "body"),
		}
	}
	return msg, nil
}

// DecodeLocalNotification parses {"identifier","title","body","data"} with the
// same tolerance as DecodeRemoteMessage.
func DecodeLocalNotification(payload []byte) (push.LocalNotification, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return push.LocalNotification{}, fmt.Errorf("%w: %w", push.ErrMalformedPayload, err)
	}
	if raw == nil {
		return push.LocalNotification{}, fmt.Errorf("%w: payload is null", push.ErrMalformedPayload)
	}
	return push.LocalNotification{
		Identifier: stringField(raw, "identifier"),
		Title:      stringField(raw, "title"),
		Body:       stringField(raw, "body"),
		Data:       mapField(raw, "data"),
	}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	v, ok := m[key].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return v
}
