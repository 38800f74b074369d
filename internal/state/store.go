// Package state holds the externally observable session state and
// republishes every change to subscribers.
package state

import (
	"sync"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Snapshot is a point-in-time copy of the session state. Nil fields are
// absent values.
type Snapshot struct {
	Token        *string
	Notification *push.NormalizedNotification
}

// TokenValue unwraps Token.
func (s Snapshot) TokenValue() (string, bool) {
	if s.Token == nil {
		return "", false
	}
	return *s.Token, true
}

// Store is last-write-wins per field. TokenManager is the only writer of the
// token and the notification listeners are the only writers of the
// notification.
type Store struct {
	mu           sync.RWMutex
	token        *string
	tokenVersion uint64
	notification *push.NormalizedNotification
	closed       bool

	subs map[chan Snapshot]struct{}
}

func NewStore() *Store {
	return &Store{subs: make(map[chan Snapshot]struct{})}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// TokenVersion increases on every applied token write.
func (s *Store) TokenVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenVersion
}

// SetToken overwrites the token. It reports false once the store is closed.
func (s *Store) SetToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.applyTokenLocked(token)
	return true
}

// SetTokenIfVersion writes the token only if no other token write has been
// applied since version was read.
func (s *Store) SetTokenIfVersion(token string, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.tokenVersion != version {
		return false
	}
	s.applyTokenLocked(token)
	return true
}

// SetNotification replaces the most recent notification.
func (s *Store) SetNotification(n push.NormalizedNotification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.notification = &n
	s.publishLocked()
	return true
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow subscribers miss snapshots rather than block writers.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, max(buffer, 0))
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() { s.unsubscribe(ch) }
}

// Close drops all further writes and closes subscriber channels.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) applyTokenLocked(token string) {
	t := token
	s.token = &t
	s.tokenVersion++
	s.publishLocked()
}

func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	var snap Snapshot
	if s.token != nil {
		t := *s.token
		snap.Token = &t
	}
	if s.notification != nil {
		n := *s.notification
		snap.Notification = &n
	}
	return snap
}
