// ABOUTME: In-memory session store mapping users to their last-used address
// ABOUTME: Guarded by an RWMutex; contents are lost when the process exits

package store

import (
	"context"
	"sync"
)

// MemorySessions is an in-memory SessionStore.
type MemorySessions struct {
	mu        sync.RWMutex
	addresses map[string]string // keyed by user ID
}

var _ SessionStore = (*MemorySessions)(nil)

// NewMemorySessions creates an empty session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		addresses: make(map[string]string),
	}
}

// GetAddress returns the last address stored for userID.
func (s *MemorySessions) GetAddress(_ context.Context, userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.addresses[userID]
	return addr, ok
}

// SetAddress stores address for userID, replacing any previous one.
func (s *MemorySessions) SetAddress(_ context.Context, userID, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addresses[userID] = address
}

// Len returns the number of users with a remembered address.
func (s *MemorySessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addresses)
}
