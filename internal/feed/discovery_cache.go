package feed

import (
	"container/list"
	"slices"
	"sync"
	"time"
)

const discoveryCacheMaxEntries = 256

// discoveryCache remembers discovery results per page URL, LRU bounded with per-entry expiry.
// Pages without feeds are cached as well.
type discoveryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type discoveryCacheEntry struct {
	key        string
	candidates []CandidateFeed
	expiresAt  time.Time
}

func newDiscoveryCache(maxEntries int) *discoveryCache {
	if maxEntries <= 0 {
		return nil
	}

	return &discoveryCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *discoveryCache) get(key string, now time.Time) ([]CandidateFeed, bool) {
	if c == nil || key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*discoveryCacheEntry)
	if now.After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)

	return slices.Clone(entry.candidates), true
}

func (c *discoveryCache) set(
	key string,
	candidates []CandidateFeed,
	expiresAt time.Time,
	now time.Time,
) {
	if c == nil || key == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*discoveryCacheEntry)
		entry.candidates = slices.Clone(candidates)
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	c.entries[key] = c.order.PushFront(&discoveryCacheEntry{
		key:        key,
		candidates: slices.Clone(candidates),
		expiresAt:  expiresAt,
	})

	c.evictExpiredLocked(now)
	c.enforceSizeLimitLocked()
}

func (c *discoveryCache) evictExpiredLocked(now time.Time) {
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*discoveryCacheEntry).expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
}

func (c *discoveryCache) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *discoveryCache) removeElement(elem *list.Element) {
	delete(c.entries, elem.Value.(*discoveryCacheEntry).key)
	c.order.Remove(elem)
}
