// Package cache provides the LRU cache used for clean store pages.
package cache

import (
	"container/list"
	"sync"
)

// entry represents a cached page.
type entry struct {
	pgno uint32
	data []byte
}

// PageCache is a thread-safe LRU cache of clean page images keyed by page
// number. Pages are copied in and out, so callers never share a buffer with
// the cache.
type PageCache struct {
	mu        sync.Mutex
	maxPages  int
	entries   map[uint32]*list.Element
	evictList *list.List
}

// NewPageCache creates a page cache holding at most maxPages clean pages.
// A non-positive maxPages means unlimited.
func NewPageCache(maxPages int) *PageCache {
	if maxPages < 0 {
		maxPages = 0
	}
	return &PageCache{
		maxPages:  maxPages,
		entries:   make(map[uint32]*list.Element),
		evictList: list.New(),
	}
}

// Get copies the cached image of page pgno into dst.
func (c *PageCache) Get(pgno uint32, dst []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[pgno]
	if !ok {
		return false
	}
	c.evictList.MoveToFront(ent)
	copy(dst, ent.Value.(*entry).data)
	return true
}

// Put stores a copy of the page image.
func (c *PageCache) Put(pgno uint32, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[pgno]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*entry).data = buf
		return
	}

	c.entries[pgno] = c.evictList.PushFront(&entry{pgno: pgno, data: buf})
	if c.maxPages > 0 && c.evictList.Len() > c.maxPages {
		oldest := c.evictList.Back()
		c.evictList.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).pgno)
	}
}

// Clear removes all pages.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint32]*list.Element)
	c.evictList.Init()
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}
