// Package apns sends probe notifications through the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-session/internal/probe"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Sender struct {
	client APNSClient
	topic  string // App bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent []byte
	// Sandbox targets the development gateway, used by debug builds.
	Sandbox bool
}

// NewSender parses the P8 key immediately so bad credentials fail fast.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes(cfg.P8KeyContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newSender(client, cfg.BundleID, logger), nil
}

func newSender(client APNSClient, topic string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSSender"),
	}
}

// Send pushes to each token in turn; APNs has no multicast endpoint.
// Transport failures are counted, not returned.
func (s *Sender) Send(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (probe.Result, error) {
	if len(tokens) == 0 {
		return probe.Result{}, probe.ErrNoTargets
	}

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		Sound(content.Sound)
	for k, v := range data {
		builder.Custom(k, v)
	}

	var res probe.Result
	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		resp, err := s.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       s.topic,
			Payload:     builder,
		})
		if err != nil {
			s.logger.Error("APNs transport failed", "err", err)
			res.Failed++
			continue
		}
		if resp.Sent() {
			res.Sent++
			continue
		}

		switch resp.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			res.Invalid = append(res.Invalid, deviceToken)
		default:
			s.logger.Warn("APNs rejected notification", "reason", resp.Reason, "status", resp.StatusCode)
			res.Failed++
		}
	}

	s.logger.Info("APNs probe sent", "result", res.String())
	return res, nil
}
