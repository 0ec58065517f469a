// Package querycache implements the size-bounded, per-entry-TTL LRU
// cache that sits in front of the index database for C-FIND lookups.
package querycache

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dicomnet/dicomnet/errors"
)

// Stats is a point-in-time snapshot of the cache's access counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Insertions  uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

// HitRate returns hits / (hits + misses), or 0 when there have been no
// accesses at all.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key     string
	value   any
	expires time.Time
}

// Cache is a concurrency-safe, size-bounded LRU with per-entry TTL.
// Reads may proceed in parallel; writes (Put, Invalidate, PurgeExpired,
// Clear) are exclusive, following spec's "many readers, exclusive
// writers" concurrency model for the query cache.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	hits        uint64
	misses      uint64
	insertions  uint64
	evictions   uint64
	expirations uint64
}

// New creates a cache bounded to capacity entries, each expiring ttl
// after insertion or last update (refreshed on Put, not on Get).
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value stored under key. ok is false on a miss, whether
// because the key was never inserted or because its entry had expired
// (an expired entry is evicted as a side effect of the lookup).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	elem, found := c.items[key]
	if !found {
		c.mu.RUnlock()
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	e := elem.Value.(*entry)
	expired := time.Now().After(e.expires)
	c.mu.RUnlock()

	if expired {
		c.mu.Lock()
		if elem2, still := c.items[key]; still && elem2 == elem {
			c.order.Remove(elem)
			delete(c.items, key)
			c.expirations++
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.order.MoveToFront(elem)
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Put inserts or updates key's value, refreshing its expiry and moving
// it to the front of the recency list. If key is new and the cache is at
// capacity, the least-recently-used entry is evicted first.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	for len(c.items) >= c.capacity {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.order.Remove(tail)
		delete(c.items, tail.Value.(*entry).key)
		c.evictions++
	}

	elem := c.order.PushFront(&entry{key: key, value: value, expires: expires})
	c.items[key] = elem
	c.insertions++
}

// Invalidate removes key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// InvalidateIf removes every entry whose key satisfies predicate.
func (c *Cache) InvalidateIf(predicate func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, elem := range c.items {
		if predicate(key) {
			c.order.Remove(elem)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// PurgeExpired removes every entry whose TTL has elapsed, without
// waiting for a future Get to discover it, and returns the count removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var removed int
	for key, elem := range c.items {
		if now.After(elem.Value.(*entry).expires) {
			c.order.Remove(elem)
			delete(c.items, key)
			removed++
		}
	}
	c.expirations += uint64(removed)
	return removed
}

// Clear removes every entry. Access statistics are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns a snapshot of the cache's access counters and current size.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Insertions:  c.insertions,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.items),
	}
}

// ErrMiss is returned by GetErr (the error-returning counterpart to Get)
// on a cache miss, matching errors.ErrCacheMiss so callers can use
// errors.Is regardless of which accessor they used.
var ErrMiss = errors.ErrCacheMiss

// GetErr is Get with an error return instead of a boolean, for callers
// that prefer errors.Is(err, errors.ErrCacheMiss) to a boolean check.
func (c *Cache) GetErr(key string) (any, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

// Key builds the canonical cache key for a C-FIND query: the query
// level, an optional AE-title scope, and the query's filter parameters
// sorted by name and joined as name=value pairs. An empty parameter list
// yields "<level>:".
func Key(level string, ae string, params map[string]string) string {
	var b strings.Builder
	if ae != "" {
		b.WriteString(ae)
		b.WriteByte('/')
	}
	b.WriteString(level)
	b.WriteByte(':')

	if len(params) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}
