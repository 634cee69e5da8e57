package bot

import (
	"sync"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
)

// SessionStore keeps at most one in-progress session per party. Starting a
// new one replaces the old. Sessions nobody has touched for a while are
// dropped by PruneIdle.
type SessionStore struct {
	mu       sync.Mutex
	clock    escrow.Clock
	sessions map[domain.PartyID]*openSession
}

type openSession struct {
	sess    *escrow.Session
	touched time.Time
}

// NewSessionStore creates an empty store. A nil clock means the wall clock.
func NewSessionStore(clock escrow.Clock) *SessionStore {
	if clock == nil {
		clock = escrow.SystemClock{}
	}
	return &SessionStore{clock: clock, sessions: make(map[domain.PartyID]*openSession)}
}

// Start creates a fresh session for owner, discarding any previous one.
func (s *SessionStore) Start(owner domain.PartyID, name string) *escrow.Session {
	sess := escrow.NewSession(owner, name)
	s.mu.Lock()
	s.sessions[owner] = &openSession{sess: sess, touched: s.clock.Now()}
	s.mu.Unlock()
	return sess
}

// Get returns the owner's session and marks it active.
func (s *SessionStore) Get(owner domain.PartyID) (*escrow.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.sessions[owner]
	if !ok {
		return nil, false
	}
	o.touched = s.clock.Now()
	return o.sess, true
}

// Drop discards the owner's session and reports whether one existed.
func (s *SessionStore) Drop(owner domain.PartyID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[owner]
	delete(s.sessions, owner)
	return ok
}

// PruneIdle drops every session untouched for longer than ttl and returns
// how many went.
func (s *SessionStore) PruneIdle(ttl time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for owner, o := range s.sessions {
		if now.Sub(o.touched) > ttl {
			delete(s.sessions, owner)
			n++
		}
	}
	return n
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
