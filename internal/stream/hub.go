// ABOUTME: In-memory fan-out of block events from the stream client to local consumers
// ABOUTME: Each consumer gets a buffered channel; slow consumers drop events instead of stalling the stream

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/ledgerbot/internal/ledger"
)

// subscriberBufferSize is the channel buffer for each hub subscriber.
const subscriberBufferSize = 64

// Hub hands every published block event to all current local subscribers.
// The notifier is one subscriber; status tracking is another.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan ledger.BlockMinedEvent
	closed bool
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]chan ledger.BlockMinedEvent),
		logger: logger.With("component", "stream_hub"),
	}
}

// Subscribe registers a consumer and returns its channel and id. The
// subscription is removed and the channel closed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan ledger.BlockMinedEvent, string) {
	id := uuid.NewString()
	ch := make(chan ledger.BlockMinedEvent, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, id
	}
	h.subs[id] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(id)
	}()

	return ch, id
}

// Publish offers ev to every subscriber without blocking.
func (h *Hub) Publish(ev ledger.BlockMinedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropped block event for slow subscriber", "sub_id", id, "hash", ev.Hash)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)

	h.logger.Debug("subscriber removed", "sub_id", id)
}

// Len returns the number of local subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.closed = true
}
