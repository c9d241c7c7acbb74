// Package cache holds a small LRU for computed month totals so hot read
// paths skip re-aggregation. Entries are invalidated whenever the owning
// workspace recomputes, so staleness is bounded by the event flow, with the
// TTL as a backstop.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"orcamento/internal/core"
)

// TotalsCache is an LRU of MonthTotals keyed by workspace and month, with
// TTL and size-based eviction.
type TotalsCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
}

type totalsItem struct {
	key       string
	totals    core.MonthTotals
	expiresAt time.Time
}

// NewTotalsCache creates a totals cache holding at most maxSize entries,
// each valid for ttl.
func NewTotalsCache(maxSize int, ttl time.Duration) *TotalsCache {
	return &TotalsCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func totalsKey(workspaceID string, month core.MonthID) string {
	return workspaceID + "/" + string(month)
}

// Get returns the cached totals for a month, if present and fresh.
func (c *TotalsCache) Get(workspaceID string, month core.MonthID) (core.MonthTotals, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[totalsKey(workspaceID, month)]
	if !ok {
		return core.MonthTotals{}, false
	}
	item := elem.Value.(*totalsItem)
	if time.Now().After(item.expiresAt) {
		c.removeElement(elem)
		return core.MonthTotals{}, false
	}
	c.lru.MoveToFront(elem)
	return item.totals, true
}

// Put stores the totals for a month, evicting the least recently used entry
// when the cache is full.
func (c *TotalsCache) Put(workspaceID string, month core.MonthID, t core.MonthTotals) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := totalsKey(workspaceID, month)
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*totalsItem)
		item.totals = t
		item.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	elem := c.lru.PushFront(&totalsItem{
		key:       key,
		totals:    t,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

// Invalidate drops one month's entry.
func (c *TotalsCache) Invalidate(workspaceID string, month core.MonthID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[totalsKey(workspaceID, month)]; ok {
		c.removeElement(elem)
	}
}

// InvalidateWorkspace drops every entry of one workspace. Recompute can
// rewrite any downstream month through rollover, so invalidation is per
// workspace, not per month.
func (c *TotalsCache) InvalidateWorkspace(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := workspaceID + "/"
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
		}
	}
}

// Size returns the current number of cached entries.
func (c *TotalsCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *TotalsCache) removeElement(elem *list.Element) {
	item := elem.Value.(*totalsItem)
	delete(c.items, item.key)
	c.lru.Remove(elem)
}
