package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ledger remembers applied adjustment keys in a bounded LRU with expiry.
// It is only replay-safe within one process; use the Redis ledger when more
// than one consumer shares the topic.
type Ledger struct {
	ttl   time.Duration
	clock clockwork.Clock
	cache *lruCache
}

// NewLedger creates a ledger holding at most maxEntries keys for ttl each.
func NewLedger(maxEntries int, ttl time.Duration, clock clockwork.Clock) *Ledger {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{ttl: ttl, clock: clock, cache: newLRUCache(maxEntries)}
}

// Seen reports whether key was recorded and has not expired.
func (l *Ledger) Seen(_ context.Context, key string) (bool, error) {
	return l.cache.contains(key, l.clock.Now()), nil
}

// Record stores keys, each expiring ttl from now.
func (l *Ledger) Record(_ context.Context, keys []string) error {
	expires := l.clock.Now().Add(l.ttl)
	for _, key := range keys {
		l.cache.put(key, expires)
	}
	return nil
}

// lruCache is a thread-safe LRU of key -> expiry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     string
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// contains reports whether key holds a live entry. Expired entries are dropped.
func (c *lruCache) contains(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return false
	}
	c.moveToFront(e)
	return true
}

// put inserts key or refreshes its expiry.
func (c *lruCache) put(key string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
