// Package gwcache implements the TTL-plus-LRU cache used by the
// federated service layer for articles, threads, group catalogs, and
// group stats: bounded memory via least-recently-used eviction rather
// than a stop-the-world clear once full.
package gwcache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
)

// Cache is a fixed-capacity, per-entry-TTL cache. Reads of an expired
// entry behave as a miss and evict lazily; writes evict the least
// recently used entry once at capacity. A zero-value Cache is not
// usable; construct with New.
type Cache[V any] struct {
	mu         sync.Mutex
	clock      gwclock.Clock
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cumulative hit and miss counts since construction.
type Stats struct {
	Hits   int64
	Misses int64
}

// Stats returns the cache's cumulative hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New constructs a Cache with defaultTTL applied to entries stored via
// Set, and maxEntries bounding the number of live entries via LRU
// eviction. maxEntries <= 0 means unbounded.
func New[V any](clock gwclock.Clock, defaultTTL time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		clock:      clock,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached value for key if present and unexpired,
// promoting it to most-recently-used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if c.clock.Now().After(ent.expiresAt) {
		c.removeElementLocked(elem)
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return ent.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL, overriding the
// cache's default (used for the shorter article-not-found TTL).
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	ent := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	elem := c.order.PushFront(ent)
	c.entries[key] = elem

	if c.maxEntries > 0 {
		for len(c.entries) > c.maxEntries {
			c.evictOldestLocked()
		}
	}
}

// Delete removes key unconditionally.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeElementLocked(elem)
	}
}

// Len reports the number of live entries, including any not yet
// lazily evicted past their TTL.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeElementLocked(oldest)
}

func (c *Cache[V]) removeElementLocked(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	delete(c.entries, ent.key)
	c.order.Remove(elem)
}
