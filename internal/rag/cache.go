package rag

import (
	"container/list"
	"log/slog"
	"sync"
)

// pipelineKey identifies one cached pipeline: the same session used by two
// clients produces two independent pipelines over the same history.
type pipelineKey struct {
	sessionID string
	clientID  string
}

type cacheEntry struct {
	key      pipelineKey
	pipeline *Pipeline
}

// pipelineCache is a bounded map of live pipelines with strict LRU
// eviction. Lookup, promotion, insertion, and eviction are O(1) via a
// hashmap over intrusive list elements; the list front is the most
// recently used entry.
//
// All mutations happen under a single mutex, held across construction on a
// miss. The cache stays small (tens of entries), so contention is cheap and
// the lock guarantees both that no two constructions ever race for one key
// and that no caller observes a half-updated cache.
type pipelineCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[pipelineKey]*list.Element
	order      *list.List
}

func newPipelineCache(maxEntries int) *pipelineCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &pipelineCache{
		maxEntries: maxEntries,
		entries:    make(map[pipelineKey]*list.Element),
		order:      list.New(),
	}
}

// getOrCreate returns the pipeline for key, promoting it to most recently
// used. On a miss it runs build exactly once and inserts the result,
// evicting the least recently used entry if the cache is at capacity.
// The returned bool reports whether this was a cache hit.
func (c *pipelineCache) getOrCreate(key pipelineKey, build func() (*Pipeline, error)) (*Pipeline, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).pipeline, true, nil
	}

	p, err := build()
	if err != nil {
		return nil, false, err
	}

	if c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, evicted.key)
			slog.Debug("Evicted pipeline",
				"session_id", evicted.key.sessionID,
				"client_id", evicted.key.clientID)
		}
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, pipeline: p})
	return p, false, nil
}

// remove drops a single entry. Returns true if it was present.
func (c *pipelineCache) remove(key pipelineKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.entries, key)
	return true
}

// removeSession drops every entry whose key's session component matches,
// across all clients. Returns the number of entries removed.
func (c *pipelineCache) removeSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.entries {
		if key.sessionID == sessionID {
			c.order.Remove(el)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *pipelineCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// keys returns all cached keys in most-recently-used-first order.
func (c *pipelineCache) keys() []pipelineKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]pipelineKey, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*cacheEntry).key)
	}
	return keys
}
