// ABOUTME: In-memory registry of users subscribed to new-block notifications
// ABOUTME: Provides idempotent membership changes and copy-on-read snapshots for fan-out

package store

import (
	"context"
	"sort"
	"sync"
)

// MemorySubscribers is an in-memory SubscriberStore.
type MemorySubscribers struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

var _ SubscriberStore = (*MemorySubscribers)(nil)

// NewMemorySubscribers creates an empty subscriber registry.
func NewMemorySubscribers() *MemorySubscribers {
	return &MemorySubscribers{
		members: make(map[string]struct{}),
	}
}

// Subscribe adds userID to the set. Subscribing twice is a no-op.
func (r *MemorySubscribers) Subscribe(_ context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[userID] = struct{}{}
}

// Unsubscribe removes userID from the set. Removing a non-member is a no-op.
func (r *MemorySubscribers) Unsubscribe(_ context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, userID)
}

// IsSubscribed reports whether userID is currently in the set.
func (r *MemorySubscribers) IsSubscribed(_ context.Context, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[userID]
	return ok
}

// Snapshot copies the member set under the read lock and returns it sorted,
// so callers never hold the lock while delivering.
func (r *MemorySubscribers) Snapshot(_ context.Context) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the current number of subscribers.
func (r *MemorySubscribers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
