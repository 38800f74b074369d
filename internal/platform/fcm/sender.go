// Package fcm sends probe notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-session/internal/probe"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client    MessagingClient
	channelID string
	logger    *slog.Logger
}

// NewSender targets the Android notification channel channelID so the probe
// shows with the session's channel settings.
func NewSender(client MessagingClient, channelID string, logger *slog.Logger) *Sender {
	return &Sender{
		client:    client,
		channelID: channelID,
		logger:    logger.With("component", "FCMSender"),
	}
}

func (s *Sender) Send(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (probe.Result, error) {
	if len(tokens) == 0 {
		return probe.Result{}, probe.ErrNoTargets
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: s.channelID,
				Sound:     content.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: content.Sound},
			},
		},
	}

	br, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			return probe.Result{}, fmt.Errorf("fcm rejected probe: %w", err)
		}
		return probe.Result{}, fmt.Errorf("fcm transport failed: %w", err)
	}

	res := probe.Result{Sent: br.SuccessCount}
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			res.Invalid = append(res.Invalid, tokens[idx])
			continue
		}
		s.logger.Warn("FCM delivery failed", "err", resp.Error)
		res.Failed++
	}

	s.logger.Info("FCM probe sent", "result", res.String())
	return res, nil
}
