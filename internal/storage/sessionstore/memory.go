package sessionstore

import (
	"context"
	"sync"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]chat.Session
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]chat.Session)}
}

// Load returns a copy of the stored session.
func (s *MemoryStore) Load(_ context.Context, userID int64) (chat.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	if !ok {
		return chat.Session{}, false, nil
	}
	return session.Clone(), true, nil
}

// Create stores session unless the user already has one.
func (s *MemoryStore) Create(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.UserID]; !ok {
		s.sessions[session.UserID] = session.Clone()
	}
	return nil
}

// Save replaces the stored session.
func (s *MemoryStore) Save(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	s.sessions[session.UserID] = session.Clone()
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
