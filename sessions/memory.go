package sessions

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	session *Session
	lock    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(_ context.Context) (*Session, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.session.Clone(), nil
}

func (m *MemoryStore) Write(_ context.Context, s *Session) error {
	if s == nil {
		return ErrNilSession
	}
	c := s.Clone()

	m.lock.Lock()
	defer m.lock.Unlock()
	m.session = c
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.session = nil
	return nil
}
