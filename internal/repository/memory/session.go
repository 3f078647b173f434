package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SessionStore implements repository.SessionStore in memory. Bindings never
// expire.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]uuid.UUID
}

// NewSessionStore returns an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]uuid.UUID{}}
}

func (s *SessionStore) CartID(_ context.Context, token string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[token]
	return id, ok, nil
}

func (s *SessionStore) Bind(_ context.Context, token string, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = cartID
	return nil
}

func (s *SessionStore) Clear(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
