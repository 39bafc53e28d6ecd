package auth

import (
	"context"
	"sync"
	"time"
)

const (
	sweepThreshold = 1024
	// expiredGrace keeps expired sessions around long enough for Find to
	// report them as expired rather than unknown.
	expiredGrace = time.Hour
)

// InMemorySessionStore is the SessionStore of the memory backend. Once it
// holds sweepThreshold sessions, Save drops those that expired more than
// expiredGrace ago.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]Session), now: time.Now}
}

func (s *InMemorySessionStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= sweepThreshold {
		cutoff := s.now().Add(-expiredGrace)
		for token, existing := range s.sessions {
			if existing.ExpiresAt.Before(cutoff) {
				delete(s.sessions, token)
			}
		}
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *InMemorySessionStore) Find(_ context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// Has reports whether token is stored.
func (s *InMemorySessionStore) Has(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	return ok
}
