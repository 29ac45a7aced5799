// Package cache provides the bounded read cache fronting store reads.
// Entries expire after a TTL and the least-recently-used entry is evicted
// when the cache is full. Writers must invalidate touched keys before
// returning so no stale entry is ever visible to a subsequent read.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/taskvine/taskvine/internal/task"
)

// Defaults applied when the config leaves capacity or TTL unset.
const (
	DefaultCapacity = 1024
	DefaultTTL      = 30 * time.Second
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

type entry struct {
	key     string
	value   *task.Task
	expires time.Time
}

// Cache is a TTL + LRU bounded task cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
	expired   int64

	now func() time.Time
}

// New creates a cache with the given capacity and TTL.
// Non-positive values fall back to the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns a copy of the cached task for path, or nil on miss.
// Expired entries count as misses and are removed eagerly.
func (c *Cache) Get(path string) *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[path]
	if !ok {
		c.misses++
		return nil
	}
	e := el.Value.(*entry)
	if c.now().After(e.expires) {
		c.removeElement(el)
		c.expired++
		c.misses++
		return nil
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value.Clone()
}

// Put stores a copy of t under its path, evicting the LRU entry when full.
func (c *Cache) Put(t *task.Task) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := t.Clone()
	expires := c.now().Add(c.ttl)

	if el, ok := c.items[t.Path]; ok {
		e := el.Value.(*entry)
		e.value = snapshot
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.removeElement(back)
			c.evictions++
		}
	}
	el := c.order.PushFront(&entry{key: t.Path, value: snapshot, expires: expires})
	c.items[t.Path] = el
}

// Invalidate drops the entries for the given paths. It returns only after
// the entries are gone, which is what gives writes their no-stale-read
// guarantee.
func (c *Cache) Invalidate(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		if el, ok := c.items[p]; ok {
			c.removeElement(el)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      c.order.Len(),
		Capacity:  c.capacity,
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
}
