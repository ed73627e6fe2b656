package downloads

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultSessionTTL      = 15 * time.Minute
	defaultSessionCapacity = 1024
)

// SessionStore holds pending sessions with a TTL and a capacity bound.
// Take is atomic so a session is fulfilled at most once.
type SessionStore struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, Session]
}

// NewSessionStore constructs a store. Non-positive arguments select defaults.
func NewSessionStore(capacity int, ttl time.Duration) *SessionStore {
	if capacity <= 0 {
		capacity = defaultSessionCapacity
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{sessions: expirable.NewLRU[string, Session](capacity, nil, ttl)}
}

// Put stores a session under its id.
func (s *SessionStore) Put(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Add(session.ID, session)
}

// Take removes and returns the session when it exists and belongs to actor.
// A foreign actor gets ErrSessionUnauthorized and the session stays live.
func (s *SessionStore) Take(sessionID string, actor chat.ActorID) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions.Peek(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if session.Actor != actor {
		return Session{}, ErrSessionUnauthorized
	}
	s.sessions.Remove(sessionID)
	return session, nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}
