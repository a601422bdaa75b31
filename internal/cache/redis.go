package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// NewRedisCache shares an existing client; Close does not close it.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   2 * time.Second,
	}
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.setRaw(key, data, ttl)
}

func (c *RedisCache) setRaw(key string, data []byte, ttl time.Duration) error {
	ctx, cancel := c.ctx()
	defer cancel()

	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Get(key string, dest interface{}) error {
	data, err := c.getRaw(key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func (c *RedisCache) getRaw(key string) ([]byte, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (c *RedisCache) Delete(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *RedisCache) DeletePattern(pattern string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.key(pattern), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Exists(key string) (bool, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Stats() map[string]interface{} {
	stats := c.client.PoolStats()
	return map[string]interface{}{
		"type":        "redis",
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}
}

func (c *RedisCache) Health() error {
	ctx, cancel := c.ctx()
	defer cancel()

	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return nil
}
