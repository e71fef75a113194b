// ABOUTME: TTL cache that remembers inbound chat message ids
// ABOUTME: Lets webhook and sync redeliveries of the same message be dropped before dispatch

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired ids are purged in the background.
const DefaultSweepInterval = time.Minute

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers message keys for a fixed TTL and holds at most maxSize of
// them, dropping the oldest first. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts its background sweeper.
// Call Close to stop the sweeper.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepEvery(DefaultSweepInterval)
	return c
}

// Key builds the cache key for a message on a frontend.
func Key(frontend, messageID string) string {
	return frontend + "/" + messageID
}

// Seen reports whether key was already recorded within the TTL. A key that
// was not seen is recorded before returning, so of several concurrent callers
// with the same key exactly one gets false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		// expired: record again as the newest entry
		e.seenAt = now
		c.order.MoveToBack(el)
		return false
	}

	for len(c.index) >= c.maxSize {
		c.removeOldest()
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) removeOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}

// Sweep drops every expired key. Entries are kept in insertion order with
// refreshed keys moved to the back, so the scan stops at the first live one.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeOldest()
	}
}

func (c *Cache) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
