// Package adapter translates cloud and local notification payloads into the
// canonical push.NormalizedNotification.
package adapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-session/internal/state"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Adapter bridges cloud messages into the local notification schema.
type Adapter struct {
	local  push.LocalNotifier
	store  *state.Store
	logger *slog.Logger
	now    func() time.Time
}

func New(local push.LocalNotifier, store *state.Store, logger *slog.Logger) *Adapter {
	return &Adapter{
		local:  local,
		store:  store,
		logger: logger.With("component", "MessageChannelAdapter"),
		now:    time.Now,
	}
}

// Normalize maps a cloud message into the canonical schema. Missing title
// and body become empty strings and missing data an empty map.
func (a *Adapter) Normalize(msg push.RemoteMessage) push.NormalizedNotification {
	var title, body string
	if msg.Notification != nil {
		title = msg.Notification.Title
		body = msg.Notification.Body
	}
	return push.NewNormalizedNotification(msg.MessageID, title, body, msg.Data, push.OriginCloud, a.now())
}

// NormalizeLocal tags a local notification with its origin.
func (a *Adapter) NormalizeLocal(n push.LocalNotification) push.NormalizedNotification {
	return push.NewNormalizedNotification(n.Identifier, n.Title, n.Body, n.Data, push.OriginLocal, a.now())
}

// HandleForeground records a foreground cloud message and presents it once
// through the local notification service, which does not display cloud
// messages on its own while the app is foregrounded.
func (a *Adapter) HandleForeground(ctx context.Context, msg push.RemoteMessage) {
	n := a.Normalize(msg)
	if !a.store.SetNotification(n) {
		return
	}

	if err := a.local.Present(ctx, n.Title(), n.Body(), n.Data()); err != nil {
		a.logger.Warn("Failed to present foreground message", "message_id", msg.MessageID, "err", err)
		return
	}
	a.logger.Debug("Foreground message presented", "message_id", msg.MessageID)
}

// HandleLocal records a notification already presented by the platform.
func (a *Adapter) HandleLocal(n push.LocalNotification) {
	a.store.SetNotification(a.NormalizeLocal(n))
}
