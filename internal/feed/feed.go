// Package feed streams cloud message payloads from a Pub/Sub subscription
// into the emulated cloud messaging service, so a backend can push to a
// session running without a mobile SDK.
package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-session/internal/adapter"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Sink receives decoded foreground messages and reports how many listeners
// saw them.
type Sink interface {
	DeliverMessage(msg push.RemoteMessage) int
}

// RemoteMessageTransformer is a dataflow Transformer that decodes a raw
// payload into a push.RemoteMessage. Undecodable payloads are skipped with
// an error so the streaming service can Nack/DLQ them. The Pub/Sub message
// ID is used when the payload carries none.
func RemoteMessageTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.RemoteMessage, bool, error) {
	remote, err := adapter.DecodeRemoteMessage(msg.Payload)
	if err != nil {
		return nil, true, fmt.Errorf("failed to decode cloud message %s: %w", msg.ID, err)
	}
	if remote.MessageID == "" {
		remote.MessageID = msg.ID
	}
	return &remote, false, nil
}

// NewProcessor delivers each message to sink. A message that arrives while
// no session is listening is dropped, not retried.
func NewProcessor(sink Sink, logger *slog.Logger) messagepipeline.StreamProcessor[push.RemoteMessage] {
	logger = logger.With("component", "CloudMessageFeed")

	return func(ctx context.Context, original messagepipeline.Message, msg *push.RemoteMessage) error {
		n := sink.DeliverMessage(*msg)
		if n == 0 {
			logger.Info("No active session; cloud message dropped", "pubsub_msg_id", original.ID)
			return nil
		}
		logger.Debug("Cloud message delivered", "pubsub_msg_id", original.ID, "message_id", msg.MessageID, "listeners", n)
		return nil
	}
}

// NewStreamingService wires consumer, transformer and processor together.
func NewStreamingService(
	consumer messagepipeline.MessageConsumer,
	sink Sink,
	workers int,
	logger *slog.Logger,
) (*messagepipeline.StreamingService[push.RemoteMessage], error) {
	if workers <= 0 {
		workers = 1
	}
	svc, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: workers},
		consumer,
		RemoteMessageTransformer,
		NewProcessor(sink, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}
	return svc, nil
}
