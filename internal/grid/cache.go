package grid

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader returns the intensity field at a timestamp.
type Loader interface {
	Load(ctx context.Context, t time.Time) (*Grid, error)
}

// Cache is a read-through cache in front of a Loader. Concurrent requests
// for the same timestamp share one load. Errors are not cached.
type Cache struct {
	inner Loader
	lru   *lruCache
	group singleflight.Group

	// OnLookup, if set, is called once per Load with whether the field was
	// already cached.
	OnLookup func(hit bool)

	// OnLoad, if set, is called after each successful load from inner.
	OnLoad func()
}

// NewCache wraps inner. maxEntries <= 0 keeps every field until Reset.
func NewCache(inner Loader, maxEntries int) *Cache {
	return &Cache{
		inner: inner,
		lru:   newLRUCache(maxEntries),
	}
}

func (c *Cache) Load(ctx context.Context, t time.Time) (*Grid, error) {
	key := t.Unix()
	if g, ok := c.lru.get(key); ok {
		c.observe(true)
		return g, nil
	}
	c.observe(false)

	v, err, _ := c.group.Do(strconv.FormatInt(key, 10), func() (interface{}, error) {
		if g, ok := c.lru.get(key); ok {
			return g, nil
		}
		g, err := c.inner.Load(ctx, t)
		if err != nil {
			return nil, err
		}
		c.lru.put(key, g)
		if c.OnLoad != nil {
			c.OnLoad()
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grid), nil
}

// Reset drops every cached field, e.g. between processing scopes.
func (c *Cache) Reset() { c.lru.reset() }

// Len returns the number of cached fields.
func (c *Cache) Len() int { return c.lru.len() }

func (c *Cache) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}

// lruCache is a thread-safe LRU cache of fields keyed by unix time.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[int64]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   int64
	value *Grid
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[int64]*entry),
	}
}

func (c *lruCache) get(key int64) (*Grid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key int64, value *Grid) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*entry)
	c.head, c.tail = nil, nil
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
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
