// Package cache holds decoded channel columns in a fixed-size LRU so
// repeated reads of the same channel skip the record-unpacking pass.
package cache

import (
	"container/list"
	"expvar"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/nexusmdf/core"
)

// Key identifies one decoded column. Cycles is the group's cycle count
// at decode time: a group that grew since simply misses, so the cache
// never serves a stale column after an extend.
type Key struct {
	Group   int
	Channel int
	Cycles  uint64
}

// Column is a cached decode result. The samples share backing arrays
// with whatever was decoded; callers that mutate must clone first.
type Column struct {
	Samples core.Samples
	Invalid *roaring.Bitmap
}

// ColumnCache is a fixed-size LRU of decoded columns. A capacity of
// zero disables it; Get always misses and Put is a no-op.
type ColumnCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[Key]*list.Element

	hits   *expvar.Int
	misses *expvar.Int
}

type entry struct {
	key Key
	col Column
}

func NewColumnCache(capacity int) *ColumnCache {
	return &ColumnCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[Key]*list.Element),
	}
}

// SetMetrics attaches expvar counters for hit/miss accounting.
func (c *ColumnCache) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

// Get retrieves a decoded column.
func (c *ColumnCache) Get(k Key) (Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return Column{}, false
	}
	if elem, ok := c.items[k]; ok {
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*entry).col, true
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	return Column{}, false
}

// Put stores a decoded column, evicting the least recently used one
// when full.
func (c *ColumnCache) Put(k Key, col Column) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}
	if elem, ok := c.items[k]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*entry).col = col
		return
	}
	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.items[k] = c.lruList.PushFront(&entry{key: k, col: col})
}

// DropGroup discards every cached column of one group. Used when a
// group is restructured in place rather than grown.
func (c *ColumnCache) DropGroup(group int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, elem := range c.items {
		if k.Group == group {
			c.lruList.Remove(elem)
			delete(c.items, k)
		}
	}
}

// Len returns the current number of cached columns.
func (c *ColumnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used column. Must be called with
// c.mu locked.
func (c *ColumnCache) evict() {
	if elem := c.lruList.Back(); elem != nil {
		e := c.lruList.Remove(elem).(*entry)
		delete(c.items, e.key)
	}
}

// Clear removes every entry and resets the metrics.
func (c *ColumnCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lruList = list.New()
	c.items = make(map[Key]*list.Element)
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// HitRate calculates the cache hit rate, for expvar.Func publishing.
func (c *ColumnCache) HitRate() float64 {
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
