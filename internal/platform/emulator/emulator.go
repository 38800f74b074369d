// Package emulator provides an in-process notification platform: a device
// descriptor, a local notification service and a cloud messaging service.
// The session binary uses it on hosts without a mobile SDK, and events are
// injected through its Deliver* methods.
package emulator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Device is a configurable device descriptor.
type Device struct {
	Physical bool
	OS       push.Platform
}

func (d Device) IsPhysical() bool        { return d.Physical }
func (d Device) Platform() push.Platform { return d.OS }

// Presentation is one Present call recorded by the LocalNotifier.
type Presentation struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// listenerSet keeps callbacks keyed by id so each Unsubscribe removes only
// its own entry.
type listenerSet[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listenerSet[T]) add(fn func(T)) push.Unsubscribe {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listenerSet[T]) emit(v T) int {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return len(fns)
}

func (l *listenerSet[T]) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// LocalNotifier emulates the platform notification service.
type LocalNotifier struct {
	mu            sync.Mutex
	status        push.PermissionStatus
	requestResult push.PermissionStatus
	permErr       error
	presentErr    error
	presented     []Presentation
	channels      []push.ChannelConfig
	presentation  *push.PresentationOptions
	getCalls      int
	requestCalls  int
	failReceived  bool
	failResponse  bool

	received  listenerSet[push.LocalNotification]
	responses listenerSet[push.LocalResponse]
	logger    *slog.Logger
}

// NewLocalNotifier starts with the given permission status; a request
// upgrades it to requestResult.
func NewLocalNotifier(status, requestResult push.PermissionStatus, logger *slog.Logger) *LocalNotifier {
	return &LocalNotifier{
		status:        status,
		requestResult: requestResult,
		logger:        logger.With("component", "EmulatedLocalNotifier"),
	}
}

// SetPermissionError makes both permission calls fail.
func (n *LocalNotifier) SetPermissionError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.permErr = err
}

// SetFailReceived makes AddReceivedListener return an error.
func (n *LocalNotifier) SetFailReceived(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failReceived = fail
}

// SetFailResponse makes AddResponseListener return an error.
func (n *LocalNotifier) SetFailResponse(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failResponse = fail
}

// SetPresentError makes Present fail.
func (n *LocalNotifier) SetPresentError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presentErr = err
}

func (n *LocalNotifier) GetPermissions(_ context.Context) (push.PermissionStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.getCalls++
	if n.permErr != nil {
		return "", n.permErr
	}
	return n.status, nil
}

func (n *LocalNotifier) RequestPermissions(_ context.Context) (push.PermissionStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requestCalls++
	if n.permErr != nil {
		return "", n.permErr
	}
	n.status = n.requestResult
	return n.status, nil
}

func (n *LocalNotifier) Present(_ context.Context, title, body string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.presentErr != nil {
		return n.presentErr
	}
	n.presented = append(n.presented, Presentation{Title: title, Body: body, Data: push.CloneData(data)})
	n.logger.Info("Notification presented", "title", title)
	return nil
}

func (n *LocalNotifier) SetNotificationChannel(_ context.Context, channel push.ChannelConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	return nil
}

func (n *LocalNotifier) SetPresentationOptions(opts push.PresentationOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presentation = &opts
	return nil
}

func (n *LocalNotifier) AddReceivedListener(fn func(push.LocalNotification)) (push.Unsubscribe, error) {
	n.mu.Lock()
	fail := n.failReceived
	n.mu.Unlock()
	if fail {
		return nil, errors.New("received listener unavailable")
	}
	return n.received.add(fn), nil
}

func (n *LocalNotifier) AddResponseListener(fn func(push.LocalResponse)) (push.Unsubscribe, error) {
	n.mu.Lock()
	fail := n.failResponse
	n.mu.Unlock()
	if fail {
		return nil, errors.New("response listener unavailable")
	}
	return n.responses.add(fn), nil
}

// DeliverLocal simulates the platform receiving (and already presenting) a
// local notification. It returns the number of listeners invoked.
func (n *LocalNotifier) DeliverLocal(ln push.LocalNotification) int {
	if ln.Identifier == "" {
		ln.Identifier = uuid.NewString()
	}
	return n.received.emit(ln)
}

// DeliverResponse simulates the user tapping a notification.
func (n *LocalNotifier) DeliverResponse(resp push.LocalResponse) int {
	return n.responses.emit(resp)
}

// Presented returns a copy of every Present call so far.
func (n *LocalNotifier) Presented() []Presentation {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Presentation, len(n.presented))
	copy(out, n.presented)
	return out
}

// Channels returns every configured channel.
func (n *LocalNotifier) Channels() []push.ChannelConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]push.ChannelConfig, len(n.channels))
	copy(out, n.channels)
	return out
}

// PresentationOptions returns the last applied options, if any.
func (n *LocalNotifier) PresentationOptions() (push.PresentationOptions, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.presentation == nil {
		return push.PresentationOptions{}, false
	}
	return *n.presentation, true
}

// PermissionCalls returns how often GetPermissions and RequestPermissions ran.
func (n *LocalNotifier) PermissionCalls() (get, request int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.getCalls, n.requestCalls
}

// ListenerCount returns the number of attached received and response listeners.
func (n *LocalNotifier) ListenerCount() int {
	return n.received.count() + n.responses.count()
}
