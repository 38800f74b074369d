package emulator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// TokenPrefix marks tokens issued by the emulator. No real provider can
// deliver to them.
const TokenPrefix = "emulated-"

// NewToken returns a fresh emulator token.
func NewToken() string {
	return TokenPrefix + uuid.NewString()
}

// IsEmulatedToken reports whether tok was issued by the emulator.
func IsEmulatedToken(tok string) bool {
	return strings.HasPrefix(tok, TokenPrefix)
}

// CloudMessaging emulates the cloud messaging service.
type CloudMessaging struct {
	mu            sync.Mutex
	authorization push.AuthorizationStatus
	authErr       error
	token         string
	tokenErr      error
	tokenGate     chan struct{}
	initial       *push.RemoteMessage
	initialErr    error
	authCalls     int
	tokenCalls    int
	initialCalls  int
	failMessage   bool
	failOpened    bool
	failRefresh   bool

	messages listenerSet[push.RemoteMessage]
	opened   listenerSet[push.RemoteMessage]
	refresh  listenerSet[string]
	logger   *slog.Logger
}

// NewCloudMessaging returns a service that authorizes with authorization and
// hands out token.
func NewCloudMessaging(authorization push.AuthorizationStatus, token string, logger *slog.Logger) *CloudMessaging {
	return &CloudMessaging{
		authorization: authorization,
		token:         token,
		logger:        logger.With("component", "EmulatedCloudMessaging"),
	}
}

// SetTokenError makes GetToken fail.
func (c *CloudMessaging) SetTokenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenErr = err
}

// SetFailMessage makes OnMessage return an error.
func (c *CloudMessaging) SetFailMessage(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failMessage = fail
}

// SetFailOpened makes OnNotificationOpenedApp return an error.
func (c *CloudMessaging) SetFailOpened(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOpened = fail
}

// SetFailRefresh makes OnTokenRefresh return an error.
func (c *CloudMessaging) SetFailRefresh(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failRefresh = fail
}

// SetAuthorizationError makes RequestPermission fail.
func (c *CloudMessaging) SetAuthorizationError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authErr = err
}

// HoldToken makes GetToken block until the returned release func is called
// or the caller's context ends. A held call returns the token issued when it
// began, so a rotation during the hold makes its result stale.
func (c *CloudMessaging) HoldToken() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.tokenGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetInitialNotification sets the message reported by GetInitialNotification.
func (c *CloudMessaging) SetInitialNotification(msg *push.RemoteMessage, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initial = msg
	c.initialErr = err
}

func (c *CloudMessaging) RequestPermission(_ context.Context) (push.AuthorizationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCalls++
	if c.authErr != nil {
		return "", c.authErr
	}
	return c.authorization, nil
}

func (c *CloudMessaging) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.tokenCalls++
	gate := c.tokenGate
	token, tokenErr := c.token, c.tokenErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if tokenErr != nil {
		return "", tokenErr
	}
	if token == "" {
		return "", errors.New("no token issued")
	}
	return token, nil
}

func (c *CloudMessaging) OnTokenRefresh(fn func(string)) (push.Unsubscribe, error) {
	c.mu.Lock()
	fail := c.failRefresh
	c.mu.Unlock()
	if fail {
		return nil, errors.New("token refresh subscription unavailable")
	}
	return c.refresh.add(fn), nil
}

func (c *CloudMessaging) OnMessage(fn func(push.RemoteMessage)) (push.Unsubscribe, error) {
	c.mu.Lock()
	fail := c.failMessage
	c.mu.Unlock()
	if fail {
		return nil, errors.New("message subscription unavailable")
	}
	return c.messages.add(fn), nil
}

func (c *CloudMessaging) OnNotificationOpenedApp(fn func(push.RemoteMessage)) (push.Unsubscribe, error) {
	c.mu.Lock()
	fail := c.failOpened
	c.mu.Unlock()
	if fail {
		return nil, errors.New("opened subscription unavailable")
	}
	return c.opened.add(fn), nil
}

func (c *CloudMessaging) GetInitialNotification(_ context.Context) (*push.RemoteMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialCalls++
	if c.initialErr != nil {
		return nil, c.initialErr
	}
	if c.initial == nil {
		return nil, nil
	}
	msg := *c.initial
	return &msg, nil
}

// DeliverMessage simulates a foreground cloud message.
func (c *CloudMessaging) DeliverMessage(msg push.RemoteMessage) int {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return c.messages.emit(msg)
}

// DeliverOpened simulates a background notification opening the app.
func (c *CloudMessaging) DeliverOpened(msg push.RemoteMessage) int {
	return c.opened.emit(msg)
}

// RotateToken issues a new token and emits a refresh event.
func (c *CloudMessaging) RotateToken(token string) int {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.logger.Debug("Token rotated")
	return c.refresh.emit(token)
}

// Calls returns how often RequestPermission, GetToken and
// GetInitialNotification ran.
func (c *CloudMessaging) Calls() (auth, token, initial int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCalls, c.tokenCalls, c.initialCalls
}

// ListenerCount returns the number of attached cloud listeners.
func (c *CloudMessaging) ListenerCount() int {
	return c.messages.count() + c.opened.count() + c.refresh.count()
}
