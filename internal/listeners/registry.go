// Package listeners attaches every asynchronous event source of a session
// and releases each subscription exactly once when the session ends.
package listeners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-session/internal/adapter"
	"github.com/tinywideclouds/go-push-session/internal/token"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Source names one event source.
type Source string

const (
	SourceForegroundMessage   Source = "foreground-message"
	SourceNotificationOpened  Source = "notification-opened"
	SourceInitialNotification Source = "initial-notification"
	SourceTokenRefresh        Source = "token-refresh"
	SourceLocalReceived       Source = "local-received"
	SourceLocalResponse       Source = "local-response"
)

// Sources lists every source in attach order.
var Sources = []Source{
	SourceForegroundMessage,
	SourceNotificationOpened,
	SourceInitialNotification,
	SourceTokenRefresh,
	SourceLocalReceived,
	SourceLocalResponse,
}

// ListenerState is unattached → attached → released. Released is terminal.
type ListenerState int

const (
	Unattached ListenerState = iota
	Attached
	Released
)

func (s ListenerState) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("ListenerState(%d)", int(s))
	}
}

var (
	ErrAlreadyAttached = errors.New("listeners already attached")
	ErrReleased        = errors.New("listeners released; create a new session")
)

type entry struct {
	state       ListenerState
	unsubscribe push.Unsubscribe
}

// Config carries the collaborators the registry routes events to.
// OpenHandler and ResponseHandler are optional.
type Config struct {
	Local           push.LocalNotifier
	Cloud           push.CloudMessaging
	Tokens          *token.Manager
	Adapter         *adapter.Adapter
	OpenHandler     push.OpenHandler
	ResponseHandler push.ResponseHandler
}

// Registry owns the subscription handles of one session.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[Source]*entry
	started bool

	released atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	entries := make(map[Source]*entry, len(Sources))
	for _, src := range Sources {
		entries[src] = &entry{state: Unattached}
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.With("component", "ListenerRegistry"),
		entries: entries,
	}
}

// Attach subscribes to every source. A source that fails to attach is
// reported in the returned slice and does not stop the others. The
// initial-notification query runs once in the background.
func (r *Registry) Attach(ctx context.Context) []error {
	r.mu.Lock()
	if r.released.Load() {
		r.mu.Unlock()
		return []error{ErrReleased}
	}
	if r.started {
		r.mu.Unlock()
		return []error{ErrAlreadyAttached}
	}
	r.started = true
	// Callbacks outlive the caller's context; they stop at Release.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(r.attach(SourceForegroundMessage, func() (push.Unsubscribe, error) {
		return r.cfg.Cloud.OnMessage(guard(r, SourceForegroundMessage, func(msg push.RemoteMessage) {
			r.logger.Debug("Foreground cloud message received", "message_id", msg.MessageID)
			r.cfg.Adapter.HandleForeground(r.ctx, msg)
		}))
	}))

	collect(r.attach(SourceNotificationOpened, func() (push.Unsubscribe, error) {
		return r.cfg.Cloud.OnNotificationOpenedApp(guard(r, SourceNotificationOpened, func(msg push.RemoteMessage) {
			r.opened(msg, false)
		}))
	}))

	collect(r.attach(SourceInitialNotification, func() (push.Unsubscribe, error) {
		r.wg.Add(1)
		go r.checkInitialNotification()
		return nil, nil
	}))

	collect(r.attach(SourceTokenRefresh, func() (push.Unsubscribe, error) {
		return r.cfg.Cloud.OnTokenRefresh(guard(r, SourceTokenRefresh, func(tok string) {
			r.cfg.Tokens.HandleRefresh(r.ctx, tok)
		}))
	}))

	collect(r.attach(SourceLocalReceived, func() (push.Unsubscribe, error) {
		return r.cfg.Local.AddReceivedListener(guard(r, SourceLocalReceived, func(n push.LocalNotification) {
			r.cfg.Adapter.HandleLocal(n)
		}))
	}))

	collect(r.attach(SourceLocalResponse, func() (push.Unsubscribe, error) {
		return r.cfg.Local.AddResponseListener(guard(r, SourceLocalResponse, func(resp push.LocalResponse) {
			if r.cfg.ResponseHandler == nil {
				r.logger.Info("Notification response", "identifier", resp.Notification.Identifier, "action", resp.ActionIdentifier)
				return
			}
			r.cfg.ResponseHandler.HandleResponse(r.ctx, resp)
		}))
	}))

	return errs
}

// attach runs one subscription call in isolation and records its handle.
func (r *Registry) attach(src Source, subscribe func() (push.Unsubscribe, error)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &push.ListenerAttachError{Source: string(src), Err: fmt.Errorf("panic: %v", p)}
			r.logger.Error("Listener attach panicked", "source", src, "panic", p)
		}
	}()

	unsub, subErr := subscribe()
	if subErr != nil {
		attachErr := &push.ListenerAttachError{Source: string(src), Err: subErr}
		r.logger.Warn("Failed to attach listener", "source", src, "err", subErr)
		return attachErr
	}
	if unsub == nil {
		unsub = func() {}
	}

	r.mu.Lock()
	e := r.entries[src]
	if e.state != Unattached {
		// Release won the race; drop the new handle immediately.
		r.mu.Unlock()
		r.safeUnsubscribe(src, unsub)
		return nil
	}
	e.state = Attached
	e.unsubscribe = unsub
	r.mu.Unlock()

	r.logger.Debug("Listener attached", "source", src)
	return nil
}

func (r *Registry) checkInitialNotification() {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Initial notification check panicked", "panic", p)
		}
	}()

	msg, err := r.cfg.Cloud.GetInitialNotification(r.ctx)
	if err != nil {
		if !r.released.Load() {
			r.logger.Warn("Failed to query initial notification", "err",
				&push.ListenerAttachError{Source: string(SourceInitialNotification), Err: err})
		}
		return
	}
	if msg == nil || r.released.Load() {
		return
	}
	r.opened(*msg, true)
}

func (r *Registry) opened(msg push.RemoteMessage, coldStart bool) {
	if r.cfg.OpenHandler == nil {
		if coldStart {
			r.logger.Info("App opened from quit state by notification", "message_id", msg.MessageID)
		} else {
			r.logger.Info("Notification opened app from background", "message_id", msg.MessageID)
		}
		return
	}
	r.cfg.OpenHandler.HandleOpened(r.ctx, msg, coldStart)
}

// Release unsubscribes every attached listener exactly once. It is
// idempotent and safe to call whether or not Attach ran or succeeded.
func (r *Registry) Release() {
	r.released.Store(true)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	var pending []func()
	for src, e := range r.entries {
		if e.state == Attached {
			unsub, source := e.unsubscribe, src
			pending = append(pending, func() { r.safeUnsubscribe(source, unsub) })
		}
		e.state = Released
		e.unsubscribe = nil
	}
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	if len(pending) > 0 {
		r.logger.Debug("Listeners released", "count", len(pending))
	}
}

// Wait blocks until background work started by Attach has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// States reports the current state of every source.
func (r *Registry) States() map[Source]ListenerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Source]ListenerState, len(r.entries))
	for src, e := range r.entries {
		out[src] = e.state
	}
	return out
}

func (r *Registry) safeUnsubscribe(src Source, unsub push.Unsubscribe) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Unsubscribe panicked", "source", src, "panic", p)
		}
	}()
	unsub()
}

// guard isolates a callback: events after Release are ignored and a panic
// is logged without detaching the listener.
func guard[T any](r *Registry, src Source, fn func(T)) func(T) {
	return func(v T) {
		if r.released.Load() {
			r.logger.Debug("Event after release ignored", "source", src)
			return
		}
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Listener callback panicked", "source", src, "panic", p)
			}
		}()
		fn(v)
	}
}
