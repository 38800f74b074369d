package feed_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-session/internal/feed"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRemoteMessageTransformer(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name          string
		inputMessage  *messagepipeline.Message
		expectSkip    bool
		expectedID    string
		expectedTitle string
	}{
		{
			name: "Payload with message id",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "ps-1", Payload: []byte(`{"messageId":"m-1","notification":{"title":"A"}}`)},
			},
			expectedID:    "m-1",
			expectedTitle: "A",
		},
		{
			name: "Pub/Sub id fills a missing message id",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "ps-2", Payload: []byte(`{"data":{"k":"v"}}`)},
			},
			expectedID: "ps-2",
		},
		{
			name: "Malformed JSON is skipped",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "ps-3", Payload: []byte("not-json")},
			},
			expectSkip: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, skip, err := feed.RemoteMessageTransformer(ctx, tc.inputMessage)
			if tc.expectSkip {
				require.Error(t, err)
				assert.True(t, skip)
				assert.ErrorIs(t, err, push.ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.expectedID, msg.MessageID)
			if tc.expectedTitle != "" {
				require.NotNil(t, msg.Notification)
				assert.Equal(t, tc.expectedTitle, msg.Notification.Title)
			}
		})
	}
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	cloud := emulator.NewCloudMessaging(push.AuthorizationAuthorized, "tok", logger)
	processor := feed.NewProcessor(cloud, logger)
	msg := &push.RemoteMessage{MessageID: "m-1", Notification: &push.RemoteNotification{Title: "A"}}

	t.Run("No listener drops without error", func(t *testing.T) {
		assert.NoError(t, processor(ctx, messagepipeline.Message{}, msg))
	})

	t.Run("Delivers to listeners", func(t *testing.T) {
		var got []push.RemoteMessage
		unsub, err := cloud.OnMessage(func(m push.RemoteMessage) { got = append(got, m) })
		require.NoError(t, err)
		defer unsub()

		require.NoError(t, processor(ctx, messagepipeline.Message{}, msg))
		require.Len(t, got, 1)
		assert.Equal(t, "m-1", got[0].MessageID)
	})
}
