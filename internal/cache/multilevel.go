package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Cache interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string, dest interface{}) error
	Delete(key string) error
	DeletePattern(pattern string) error
	Exists(key string) (bool, error)
	Stats() map[string]interface{}
	Health() error
	Close() error
}

const defaultL1TTL = 30 * time.Second

// MultiLevelCache keeps a short-lived in-process L1 in front of an optional redis L2.
// Values are JSON-encoded once and the same bytes go to both levels. L2 write
// failures are counted but never surface to callers.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	l1TTL   time.Duration
	metrics *CacheMetrics
}

func NewMultiLevelCache(redisCache *RedisCache) *MultiLevelCache {
	return &MultiLevelCache{
		l1:      NewMemoryCache(defaultMaxItems),
		l2:      redisCache,
		l1TTL:   defaultL1TTL,
		metrics: NewCacheMetrics(),
	}
}

func (c *MultiLevelCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.metrics.RecordError()
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	c.l1.Set(key, data, min(ttl, c.l1TTL))
	c.metrics.RecordSet()

	if c.l2 != nil {
		if err := c.l2.setRaw(key, data, ttl); err != nil {
			c.metrics.RecordError()
		}
	}

	return nil
}

func (c *MultiLevelCache) Get(key string, dest interface{}) error {
	if data, found := c.l1.Get(key); found {
		c.metrics.RecordHit()
		return decode(data, dest)
	}

	if c.l2 != nil {
		data, err := c.l2.getRaw(key)
		if err == nil {
			c.metrics.RecordHit()
			c.l1.Set(key, data, c.l1TTL)
			return decode(data, dest)
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.metrics.RecordError()
		}
	}

	c.metrics.RecordMiss()
	return ErrCacheMiss
}

func (c *MultiLevelCache) Delete(key string) error {
	return c.evict(func() { c.l1.Delete(key) }, func(l2 *RedisCache) error { return l2.Delete(key) })
}

func (c *MultiLevelCache) DeletePattern(pattern string) error {
	return c.evict(func() { c.l1.DeletePattern(pattern) }, func(l2 *RedisCache) error { return l2.DeletePattern(pattern) })
}

// evict always clears L1, even when the L2 delete fails.
func (c *MultiLevelCache) evict(fromL1 func(), fromL2 func(*RedisCache) error) error {
	fromL1()
	c.metrics.RecordDelete()

	if c.l2 == nil {
		return nil
	}
	if err := fromL2(c.l2); err != nil {
		c.metrics.RecordError()
		return err
	}
	return nil
}

func (c *MultiLevelCache) Exists(key string) (bool, error) {
	if _, found := c.l1.Get(key); found {
		return true, nil
	}

	if c.l2 != nil {
		return c.l2.Exists(key)
	}

	return false, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":               c.l1.Stats(),
		"metrics":          c.metrics.GetStats(),
		"hit_rate_percent": c.metrics.HitRate(),
	}

	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}

	return stats
}

func (c *MultiLevelCache) Health() error {
	if c.l2 != nil {
		return c.l2.Health()
	}

	return nil
}

func (c *MultiLevelCache) Close() error {
	c.l1.Close()

	if c.l2 != nil {
		return c.l2.Close()
	}

	return nil
}

func (c *MultiLevelCache) GetMetrics() *CacheMetrics {
	return c.metrics
}

func decode(data []byte, dest interface{}) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}
