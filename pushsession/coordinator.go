package pushsession

import (
	"context"
	"errors"
	"sync"
)

var ErrSessionActive = errors.New("a push session is already active")

// Coordinator hands out at most one live session at a time. A new session
// can be opened only after the previous one has ended, and End releases
// synchronously, so sessions never overlap.
type Coordinator struct {
	deps Dependencies
	opts []Option

	mu     sync.Mutex
	active *Session
}

func NewCoordinator(deps Dependencies, opts ...Option) *Coordinator {
	return &Coordinator{deps: deps, opts: opts}
}

// Open creates and starts a session. The session is returned even when it
// started with permission denied or without a token.
func (c *Coordinator) Open(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.active != nil && !c.active.Ended() {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := New(c.deps, c.opts...)
	c.active = s
	c.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		s.End()
		return nil, err
	}
	return s, nil
}

// Active returns the live session, if any.
func (c *Coordinator) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.Ended() {
		return nil, false
	}
	return c.active, true
}

// Close ends the active session. It is safe to call with none open.
func (c *Coordinator) Close() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s != nil {
		s.End()
	}
}
