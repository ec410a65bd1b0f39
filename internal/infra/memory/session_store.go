package memory

import (
	"context"
	"sort"
	"sync"

	"gauntlet-service/internal/app"
	"gauntlet-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRegistry.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Identity
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Identity),
	}
}

func (s *SessionStore) Bind(_ context.Context, connID string, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[connID] = identity
	return nil
}

func (s *SessionStore) Lookup(_ context.Context, connID string) (domain.Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.sessions[connID]
	return identity, ok, nil
}

func (s *SessionStore) Unbind(_ context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connID)
	return nil
}

func (s *SessionStore) Connections(_ context.Context, groupID int64) ([]app.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []app.Binding
	for connID, identity := range s.sessions {
		if identity.GroupID == groupID {
			out = append(out, app.Binding{ConnID: connID, Identity: identity})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out, nil
}
