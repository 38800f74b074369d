// Package probe sends a test notification to device tokens so a session's
// token can be verified end to end.
package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

var ErrNoTargets = errors.New("no target tokens")

// Result summarises one probe.
type Result struct {
	Sent int
	// Invalid tokens were rejected as unregistered or malformed.
	Invalid []string
	Failed  int
}

func (r Result) String() string {
	return fmt.Sprintf("sent:%d invalid:%d failed:%d", r.Sent, len(r.Invalid), r.Failed)
}

// Sender delivers one notification to a batch of tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (Result, error)
}

// DefaultContent is the notification a probe sends when none is given.
func DefaultContent() notification.NotificationContent {
	return notification.NotificationContent{
		Title: "Push session probe",
		Body:  "If you can read this, the token works.",
		Sound: "default",
	}
}

// Run sends content to every non-empty token once.
func Run(ctx context.Context, sender Sender, tokens []string, content notification.NotificationContent, data map[string]string) (Result, error) {
	targets := dedupe(tokens)
	if len(targets) == 0 {
		return Result{}, ErrNoTargets
	}
	return sender.Send(ctx, targets, content, data)
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
