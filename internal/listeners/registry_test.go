package listeners_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-session/internal/adapter"
	"github.com/tinywideclouds/go-push-session/internal/listeners"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/internal/state"
	"github.com/tinywideclouds/go-push-session/internal/token"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// --- Mocks ---

type MockOpenHandler struct {
	mock.Mock
}

func (m *MockOpenHandler) HandleOpened(ctx context.Context, msg push.RemoteMessage, coldStart bool) {
	m.Called(ctx, msg, coldStart)
}

type panickingResponder struct {
	mu    sync.Mutex
	calls int
}

func (p *panickingResponder) HandleResponse(_ context.Context, _ push.LocalResponse) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	panic("handler bug")
}

func (p *panickingResponder) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// --- Setup ---

type fixture struct {
	local    *emulator.LocalNotifier
	cloud    *emulator.CloudMessaging
	store    *state.Store
	registry *listeners.Registry
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, configure func(*emulator.LocalNotifier, *emulator.CloudMessaging), handlers ...any) *fixture {
	t.Helper()
	logger := newTestLogger()
	local := emulator.NewLocalNotifier(push.PermissionGranted, push.PermissionGranted, logger)
	cloud := emulator.NewCloudMessaging(push.AuthorizationAuthorized, "tok-0", logger)
	if configure != nil {
		configure(local, cloud)
	}
	store := state.NewStore()

	cfg := listeners.Config{
		Local:   local,
		Cloud:   cloud,
		Tokens:  token.NewManager(cloud, store, nil, logger),
		Adapter: adapter.New(local, store, logger),
	}
	for _, h := range handlers {
		if oh, ok := h.(push.OpenHandler); ok {
			cfg.OpenHandler = oh
		}
		if rh, ok := h.(push.ResponseHandler); ok {
			cfg.ResponseHandler = rh
		}
	}
	return &fixture{local: local, cloud: cloud, store: store, registry: listeners.NewRegistry(cfg, logger)}
}

// --- Tests ---

func TestAttachAndRoute(t *testing.T) {
	ctx := context.Background()
	openHandler := new(MockOpenHandler)
	initial := &push.RemoteMessage{MessageID: "cold-1"}
	f := setup(t, func(_ *emulator.LocalNotifier, c *emulator.CloudMessaging) {
		c.SetInitialNotification(initial, nil)
	}, openHandler)

	openHandler.On("HandleOpened", mock.Anything, push.RemoteMessage{MessageID: "cold-1"}, true).Once()
	openHandler.On("HandleOpened", mock.Anything, push.RemoteMessage{MessageID: "bg-1"}, false).Once()

	errs := f.registry.Attach(ctx)
	require.Empty(t, errs)
	f.registry.Wait()

	for src, st := range f.registry.States() {
		assert.Equal(t, listeners.Attached, st, "source %s", src)
	}
	assert.Equal(t, 3, f.cloud.ListenerCount())
	assert.Equal(t, 2, f.local.ListenerCount())

	t.Run("Foreground message", func(t *testing.T) {
		f.cloud.DeliverMessage(push.RemoteMessage{
			Notification: &push.RemoteNotification{Title: "A", Body: "B"},
			Data:         map[string]any{"k": "v"},
		})
		snap := f.store.Snapshot()
		require.NotNil(t, snap.Notification)
		assert.Equal(t, push.OriginCloud, snap.Notification.Origin())
		assert.Len(t, f.local.Presented(), 1)
	})

	t.Run("Local received", func(t *testing.T) {
		f.local.DeliverLocal(push.LocalNotification{Title: "L"})
		snap := f.store.Snapshot()
		require.NotNil(t, snap.Notification)
		assert.Equal(t, push.OriginLocal, snap.Notification.Origin())
		assert.Len(t, f.local.Presented(), 1, "no extra presentation for local notifications")
	})

	t.Run("Token refresh", func(t *testing.T) {
		f.cloud.RotateToken("tok-1")
		tok, ok := f.store.Snapshot().TokenValue()
		require.True(t, ok)
		assert.Equal(t, "tok-1", tok)
	})

	t.Run("Background open", func(t *testing.T) {
		f.cloud.DeliverOpened(push.RemoteMessage{MessageID: "bg-1"})
	})

	openHandler.AssertExpectations(t)
	_, _, initialCalls := f.cloud.Calls()
	assert.Equal(t, 1, initialCalls, "cold start queried once")
}

func TestAttachFailuresAreIsolated(t *testing.T) {
	f := setup(t, func(l *emulator.LocalNotifier, c *emulator.CloudMessaging) {
		c.SetFailMessage(true)
		l.SetFailResponse(true)
	})

	errs := f.registry.Attach(context.Background())
	require.Len(t, errs, 2)

	var attachErr *push.ListenerAttachError
	require.True(t, errors.As(errs[0], &attachErr))
	assert.Equal(t, string(listeners.SourceForegroundMessage), attachErr.Source)

	states := f.registry.States()
	assert.Equal(t, listeners.Unattached, states[listeners.SourceForegroundMessage])
	assert.Equal(t, listeners.Unattached, states[listeners.SourceLocalResponse])
	assert.Equal(t, listeners.Attached, states[listeners.SourceTokenRefresh])
	assert.Equal(t, listeners.Attached, states[listeners.SourceLocalReceived])

	f.cloud.RotateToken("tok-9")
	tok, _ := f.store.Snapshot().TokenValue()
	assert.Equal(t, "tok-9", tok, "siblings still work")

	f.registry.Release()
	assert.Zero(t, f.cloud.ListenerCount(), "partial setup does not leak")
	assert.Zero(t, f.local.ListenerCount())
	for _, st := range f.registry.States() {
		assert.Equal(t, listeners.Released, st)
	}
}

func TestCallbackPanicIsIsolated(t *testing.T) {
	responder := &panickingResponder{}
	f := setup(t, nil, responder)
	require.Empty(t, f.registry.Attach(context.Background()))

	assert.NotPanics(t, func() {
		f.local.DeliverResponse(push.LocalResponse{ActionIdentifier: "tap"})
		f.local.DeliverResponse(push.LocalResponse{ActionIdentifier: "tap"})
	})
	assert.Equal(t, 2, responder.Calls(), "listener stays subscribed after a panic")
	assert.Equal(t, listeners.Attached, f.registry.States()[listeners.SourceLocalResponse])

	f.cloud.RotateToken("tok-2")
	tok, _ := f.store.Snapshot().TokenValue()
	assert.Equal(t, "tok-2", tok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := setup(t, nil)
	require.Empty(t, f.registry.Attach(context.Background()))

	f.registry.Release()
	f.registry.Release()

	assert.Zero(t, f.cloud.ListenerCount())
	assert.Zero(t, f.local.ListenerCount())

	assert.Zero(t, f.cloud.RotateToken("after-release"), "no listener invoked")
	_, ok := f.store.Snapshot().TokenValue()
	assert.False(t, ok)

	errs := f.registry.Attach(context.Background())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], listeners.ErrReleased)
}

func TestAttachTwice(t *testing.T) {
	f := setup(t, nil)
	require.Empty(t, f.registry.Attach(context.Background()))

	errs := f.registry.Attach(context.Background())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], listeners.ErrAlreadyAttached)
	assert.Equal(t, 3, f.cloud.ListenerCount(), "no duplicate subscriptions")
}

func TestReleaseWithoutAttach(t *testing.T) {
	f := setup(t, nil)
	assert.NotPanics(t, f.registry.Release)
	for _, st := range f.registry.States() {
		assert.Equal(t, listeners.Released, st)
	}
}

func TestInitialNotificationFailureIsSoft(t *testing.T) {
	f := setup(t, func(_ *emulator.LocalNotifier, c *emulator.CloudMessaging) {
		c.SetInitialNotification(nil, errors.New("not available"))
	})
	errs := f.registry.Attach(context.Background())
	f.registry.Wait()

	assert.Empty(t, errs)
	assert.Eventually(t, func() bool {
		_, _, calls := f.cloud.Calls()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListenerStateString(t *testing.T) {
	assert.Equal(t, "unattached", listeners.Unattached.String())
	assert.Equal(t, "attached", listeners.Attached.String())
	assert.Equal(t, "released", listeners.Released.String())
}
