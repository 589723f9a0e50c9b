package query

import (
	"container/list"
	"sync"

	"resgraph/internal/engine/graph"
)

// lruCache is a capacity-bounded least-recently-used cache. Callers
// synchronize access.
type lruCache[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = most-recently used
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *lruCache[K, V]) get(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

func (c *lruCache[K, V]) put(key K, value V) {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry[K, V]).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*lruEntry[K, V]).key)
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
}

func (c *lruCache[K, V]) len() int {
	return c.order.Len()
}

func (c *lruCache[K, V]) clear() {
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

type searchKey struct {
	query string
	limit int
}

// searchCache holds search results for a single store generation. The
// first lookup under a newer generation drops everything.
type searchCache struct {
	mu         sync.Mutex
	generation uint64
	lru        *lruCache[searchKey, []graph.SearchResult]
}

func newSearchCache(capacity int) *searchCache {
	return &searchCache{lru: newLRUCache[searchKey, []graph.SearchResult](capacity)}
}

func (c *searchCache) sync(gen uint64) {
	if gen != c.generation {
		c.lru.clear()
		c.generation = gen
	}
}

func (c *searchCache) get(gen uint64, key searchKey) ([]graph.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync(gen)
	return c.lru.get(key)
}

func (c *searchCache) put(gen uint64, key searchKey, results []graph.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.generation {
		return
	}
	c.sync(gen)
	c.lru.put(key, results)
}

func (c *searchCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.len()
}

func cloneResults(in []graph.SearchResult) []graph.SearchResult {
	out := make([]graph.SearchResult, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Node = r.Node.Clone()
	}
	return out
}
