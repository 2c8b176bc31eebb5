package impersonation

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart and are not shared between instances.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Put(_ context.Context, s *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.sessions[s.RealSubjectID]
	m.sessions[s.RealSubjectID] = *s
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

func (m *MemoryStore) Get(_ context.Context, realSubjectID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[realSubjectID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, realSubjectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[realSubjectID]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, realSubjectID)
	return &s, nil
}
