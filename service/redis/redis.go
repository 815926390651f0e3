package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/logger"
)

// CacheConfig names a logical cache and the redis database it lives in.
type CacheConfig struct {
	database    int
	keyPrefix   string
	displayName string
}

var (
	// ThreadSessionCache holds per-session thread state such as fresh replies.
	ThreadSessionCache = CacheConfig{database: 0, keyPrefix: "threads", displayName: "thread_session"}
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

// Cache is a namespaced byte cache on top of a redis client.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	name      string
}

// NewClient connects to the database of the given config using REDIS_URL and REDIS_PASS.
func NewClient(config CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     env.GetString("REDIS_URL"),
		Password: env.GetString("REDIS_PASS"),
		DB:       config.database,
	})
}

// NewCache returns a cache for config, connecting with NewClient.
func NewCache(config CacheConfig) *Cache {
	return NewCacheWithClient(config, NewClient(config))
}

func NewCacheWithClient(config CacheConfig, client *redis.Client) *Cache {
	return &Cache{client: client, keyPrefix: config.keyPrefix, name: config.displayName}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// Set stores value under key. A zero expiration keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, c.prefixed(key), value, expiration).Err()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefixed(k)
	}
	return c.client.Del(ctx, prefixed...).Err()
}

// Ping checks the connection and logs the outcome.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		logger.For(ctx).Errorf("redis cache %s unreachable: %s", c.name, err)
		return err
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) prefixed(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}
