package session

import (
	"context"
	"sync"
)

// Store keeps per-session continuation state for providers offering
// stateful server-side conversation continuation. Concurrent turns across
// different sessions proceed independently; concurrent turns on the same
// session are last-writer-wins.
type Store interface {
	// LastResponseID returns the prior response id for a session, or ""
	// when none is recorded.
	LastResponseID(ctx context.Context, sessionID string) (string, error)

	// SetLastResponseID records the response id of the latest completed
	// stream segment for a session.
	SetLastResponseID(ctx context.Context, sessionID, responseID string) error

	// Clear forgets all state for a session.
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore is the default in-process Store. Its lifecycle is tied to the
// orchestrator instance that owns it; it is never process-wide.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids: make(map[string]string),
	}
}

// LastResponseID implements Store.
func (s *MemoryStore) LastResponseID(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[sessionID], nil
}

// SetLastResponseID implements Store.
func (s *MemoryStore) SetLastResponseID(ctx context.Context, sessionID, responseID string) error {
	if sessionID == "" || responseID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[sessionID] = responseID
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, sessionID)
	return nil
}
