package cache

import (
	"path"
	"sync"
	"time"
)

const defaultMaxItems = 1024

// MemoryCache is the in-process L1. It stores encoded values so every reader
// decodes its own copy, and holds at most maxItems entries.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	maxItems int
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryCache(maxItems int) *MemoryCache {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	c := &MemoryCache{
		items:    make(map[string]memoryItem),
		maxItems: maxItems,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go c.sweepEvery(time.Minute)

	return c
}

func (c *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxItems {
		c.removeExpired(now)
		if len(c.items) >= c.maxItems {
			c.evictSoonest()
		}
	}
	c.items[key] = memoryItem{data: data, expiresAt: now.Add(ttl)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false
	}
	return item.data, true
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeletePattern removes keys matching a glob such as "tasks:*", the same
// syntax redis SCAN MATCH accepts for the patterns used here.
func (c *MemoryCache) DeletePattern(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":      "memory",
		"items":     c.Len(),
		"max_items": c.maxItems,
	}
}

func (c *MemoryCache) removeExpired(now time.Time) {
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache) evictSoonest() {
	var (
		victim string
		first  = true
		at     time.Time
	)
	for key, item := range c.items {
		if first || item.expiresAt.Before(at) {
			victim, at, first = key, item.expiresAt, false
		}
	}
	if !first {
		delete(c.items, victim)
	}
}

func (c *MemoryCache) sweepEvery(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.removeExpired(c.now())
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
