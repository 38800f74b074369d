package pushsession_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushsession"
)

// --- Mocks ---

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// --- Setup ---

type platform struct {
	device emulator.Device
	local  *emulator.LocalNotifier
	cloud  *emulator.CloudMessaging
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPlatform(os push.Platform, physical bool) *platform {
	logger := newTestLogger()
	return &platform{
		device: emulator.Device{Physical: physical, OS: os},
		local:  emulator.NewLocalNotifier(push.PermissionUndetermined, push.PermissionGranted, logger),
		cloud:  emulator.NewCloudMessaging(push.AuthorizationAuthorized, "tok-initial", logger),
	}
}

func (p *platform) deps() pushsession.Dependencies {
	return pushsession.Dependencies{Device: p.device, Local: p.local, Cloud: p.cloud}
}

func startSession(t *testing.T, deps pushsession.Dependencies) *pushsession.Session {
	t.Helper()
	s := pushsession.New(deps, pushsession.WithLogger(newTestLogger()))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.End)
	return s
}

// --- Tests ---

func TestSessionStartGranted(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	registrar := new(MockRegistrar)
	registrar.On("Register", mock.Anything, "tok-initial").Return(nil).Once()

	deps := p.deps()
	deps.Registrar = registrar
	s := startSession(t, deps)
	s.Wait()

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, push.PermissionState{Granted: true}, s.Permission())
	tok, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-initial", tok)
	registrar.AssertExpectations(t)

	_, ok = s.Notification()
	assert.False(t, ok)

	channels := p.local.Channels()
	require.Len(t, channels, 1, "android configures its channel once")
	assert.Equal(t, push.DefaultChannelConfig(), channels[0])
	opts, ok := p.local.PresentationOptions()
	require.True(t, ok)
	assert.Equal(t, push.DefaultPresentationOptions(), opts)

	assert.Empty(t, s.AttachErrors())
	for src, st := range s.ListenerStates() {
		assert.Equal(t, "attached", st, "source %s", src)
	}
}

func TestSessionNonPhysicalDevice(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, false)
	s := startSession(t, p.deps())

	perm := s.Permission()
	assert.False(t, perm.Granted)
	assert.Equal(t, push.ReasonNoPhysicalDevice, perm.Reason)

	_, tokenCalls, _ := p.cloud.Calls()
	assert.Zero(t, tokenCalls, "token is never requested")
	_, ok := s.Token()
	assert.False(t, ok)

	t.Run("Refresh still supplies a token", func(t *testing.T) {
		p.cloud.RotateToken("tok-refreshed")
		tok, ok := s.Token()
		require.True(t, ok)
		assert.Equal(t, "tok-refreshed", tok)
	})
}

func TestSessionCloudMessagingDenied(t *testing.T) {
	p := newPlatform(push.PlatformIOS, true)
	p.cloud = emulator.NewCloudMessaging(push.AuthorizationDenied, "tok-initial", newTestLogger())
	s := startSession(t, p.deps())

	perm := s.Permission()
	assert.False(t, perm.Granted)
	assert.Equal(t, push.ReasonCloudMessagingDenied, perm.Reason)

	get, request := p.local.PermissionCalls()
	assert.Zero(t, get, "local permission is never queried")
	assert.Zero(t, request)
	assert.Empty(t, p.local.Channels(), "channels are android only")

	_, ok := s.Token()
	assert.False(t, ok)
}

func TestSessionTokenAcquisitionFailure(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	p.cloud.SetTokenError(errors.New("service unavailable"))
	s := startSession(t, p.deps())

	assert.True(t, s.Permission().Granted)
	_, ok := s.Token()
	assert.False(t, ok)

	t.Run("Local notifications still arrive", func(t *testing.T) {
		p.local.DeliverLocal(push.LocalNotification{Title: "still here"})
		n, ok := s.Notification()
		require.True(t, ok)
		assert.Equal(t, "still here", n.Title())
	})
}

func TestSessionForegroundCloudMessage(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	s := startSession(t, p.deps())

	p.cloud.DeliverMessage(push.RemoteMessage{
		Notification: &push.RemoteNotification{Title: "A", Body: "B"},
		Data:         map[string]any{"k": "v"},
	})

	n, ok := s.Notification()
	require.True(t, ok)
	assert.Equal(t, "A", n.Title())
	assert.Equal(t, "B", n.Body())
	assert.Equal(t, map[string]any{"k": "v"}, n.Data())
	assert.Equal(t, push.OriginCloud, n.Origin())

	presented := p.local.Presented()
	require.Len(t, presented, 1)
	assert.Equal(t, emulator.Presentation{Title: "A", Body: "B", Data: map[string]any{"k": "v"}}, presented[0])
}

func TestSessionLocalNotification(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	s := startSession(t, p.deps())

	p.local.DeliverLocal(push.LocalNotification{Title: "L", Body: "local"})

	n, ok := s.Notification()
	require.True(t, ok)
	assert.Equal(t, push.OriginLocal, n.Origin())
	assert.Empty(t, p.local.Presented())
}

func TestSessionRefreshWinsOverInFlightAcquire(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	release := p.cloud.HoldToken()
	s := pushsession.New(p.deps(), pushsession.WithLogger(newTestLogger()))
	t.Cleanup(s.End)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		_, calls, _ := p.cloud.Calls()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	p.cloud.RotateToken("tok-rotated")
	release()
	require.NoError(t, <-done)

	tok, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-rotated", tok, "the most recent refresh is kept")
}

func TestSessionEnd(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	s := pushsession.New(p.deps(), pushsession.WithLogger(newTestLogger()))
	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	updates, _ := s.Subscribe(4)
	before := s.Snapshot()

	s.End()
	s.End()

	assert.True(t, s.Ended())
	assert.Zero(t, p.cloud.ListenerCount(), "every cloud listener released")
	assert.Zero(t, p.local.ListenerCount(), "every local listener released")
	for src, st := range s.ListenerStates() {
		assert.Equal(t, "released", st, "source %s", src)
	}

	p.cloud.RotateToken("late")
	p.cloud.DeliverMessage(push.RemoteMessage{Notification: &push.RemoteNotification{Title: "late"}})
	p.local.DeliverLocal(push.LocalNotification{Title: "late"})
	assert.Equal(t, before, s.Snapshot(), "no mutation after end")
	assert.Empty(t, p.local.Presented())

	_, open := <-updates
	assert.False(t, open, "subscriptions close on end")

	assert.ErrorIs(t, s.Start(context.Background()), pushsession.ErrSessionEnded)
}

func TestSessionEndDuringAcquire(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	release := p.cloud.HoldToken()
	s := pushsession.New(p.deps(), pushsession.WithLogger(newTestLogger()))

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		_, calls, _ := p.cloud.Calls()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	s.End()
	release()
	require.NoError(t, <-done)

	_, ok := s.Token()
	assert.False(t, ok, "late result is discarded")
}

func TestSessionStartTwice(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	s := startSession(t, p.deps())
	assert.ErrorIs(t, s.Start(context.Background()), pushsession.ErrSessionStarted)
	assert.Equal(t, 3, p.cloud.ListenerCount(), "no duplicate listeners")
}

func TestSessionRenegotiate(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	p.local.SetPermissionError(errors.New("service not ready"))
	s := startSession(t, p.deps())

	perm := s.Permission()
	assert.False(t, perm.Granted)
	assert.Equal(t, push.ReasonPermissionQueryFailed, perm.Reason)
	_, ok := s.Token()
	assert.False(t, ok)

	p.local.SetPermissionError(nil)
	perm = s.Renegotiate(context.Background())
	assert.True(t, perm.Granted)
	assert.Equal(t, perm, s.Permission())

	tok, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-initial", tok)

	t.Run("Token is not refetched when held", func(t *testing.T) {
		_, before, _ := p.cloud.Calls()
		s.Renegotiate(context.Background())
		_, after, _ := p.cloud.Calls()
		assert.Equal(t, before, after)
	})
}

func TestSessionRenegotiateDuringStartAcquiresOnce(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	registrar := new(MockRegistrar)
	registrar.On("Register", mock.Anything, "tok-initial").Return(nil)

	deps := p.deps()
	deps.Registrar = registrar
	release := p.cloud.HoldToken()
	s := pushsession.New(deps, pushsession.WithLogger(newTestLogger()))
	t.Cleanup(s.End)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		_, calls, _ := p.cloud.Calls()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	renegotiated := make(chan push.PermissionState, 1)
	go func() { renegotiated <- s.Renegotiate(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	release()
	require.NoError(t, <-started)
	perm := <-renegotiated
	assert.True(t, perm.Granted)
	s.Wait()

	_, calls, _ := p.cloud.Calls()
	assert.Equal(t, 1, calls, "overlapping negotiations fetch the token once")
	registrar.AssertNumberOfCalls(t, "Register", 1)
}

func TestSessionSubscribe(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	s := startSession(t, p.deps())

	updates, cancel := s.Subscribe(2)
	defer cancel()

	p.cloud.RotateToken("tok-2")
	select {
	case snap := <-updates:
		tok, ok := snap.TokenValue()
		require.True(t, ok)
		assert.Equal(t, "tok-2", tok)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestSessionListenerAttachFailure(t *testing.T) {
	p := newPlatform(push.PlatformAndroid, true)
	p.cloud.SetFailOpened(true)
	s := startSession(t, p.deps())

	errs := s.AttachErrors()
	require.Len(t, errs, 1)
	var attachErr *push.ListenerAttachError
	require.ErrorAs(t, errs[0], &attachErr)
	assert.Equal(t, "notification-opened", attachErr.Source)

	tok, ok := s.Token()
	require.True(t, ok, "session keeps running")
	assert.Equal(t, "tok-initial", tok)
	assert.Equal(t, "unattached", s.ListenerStates()["notification-opened"])
}
