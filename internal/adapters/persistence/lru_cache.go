package persistence

import (
	"container/list"
	"context"
	"sync"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// BoundedLRUCache is a thread-safe LRU map with a fixed capacity.
type BoundedLRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*list.Element
	lru     *list.List
	maxSize int
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func NewBoundedLRUCache[K comparable, V any](maxSize int) *BoundedLRUCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &BoundedLRUCache[K, V]{
		items:   make(map[K]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *BoundedLRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*lruEntry[K, V]).value, true
}

func (c *BoundedLRUCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return
	}
	for len(c.items) >= c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.lru.Remove(back)
		delete(c.items, back.Value.(*lruEntry[K, V]).key)
	}
	c.items[key] = c.lru.PushFront(&lruEntry[K, V]{key: key, value: value})
}

func (c *BoundedLRUCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.Remove(elem)
		delete(c.items, key)
	}
}

func (c *BoundedLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// MemoryFillCache is the in-process read-path cache for fill records.
type MemoryFillCache struct {
	lru *BoundedLRUCache[string, domain.FillRecord]
}

func NewMemoryFillCache(size int) *MemoryFillCache {
	return &MemoryFillCache{lru: NewBoundedLRUCache[string, domain.FillRecord](size)}
}

func (c *MemoryFillCache) Put(_ context.Context, rec *domain.FillRecord) error {
	c.lru.Set(rec.Fill.ID, *rec)
	return nil
}

func (c *MemoryFillCache) Get(_ context.Context, id string) (*domain.FillRecord, bool, error) {
	rec, ok := c.lru.Get(id)
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *MemoryFillCache) Invalidate(_ context.Context, id string) error {
	c.lru.Delete(id)
	return nil
}
