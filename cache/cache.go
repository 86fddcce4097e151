package cache

import (
	"sync"
)

// Cache is a concurrency-safe map keyed by video id. Get returns the zero
// value for missing keys, so pointer-valued caches read naturally.
type Cache[T any] struct {
	entries map[string]T
	mutex   sync.RWMutex
}

func New[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]T)}
}

func (c *Cache[T]) Store(id string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[id] = value
}

func (c *Cache[T]) Get(id string) T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.entries[id]
}

func (c *Cache[T]) Remove(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, id)
}

func (c *Cache[T]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}
