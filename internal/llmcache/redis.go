package llmcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the cache with Redis, so extraction results survive a
// worker restart and are shared across every worker replica.
type RedisCache struct {
	client *redis.Client
	prefix string

	hits, misses, puts, deletes int64
}

// RedisCacheConfig configures the Redis connection.
type RedisCacheConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxRetries int
	PoolSize   int
}

// NewRedisCache dials Redis and verifies connectivity with a Ping before
// returning, so a misconfigured cache fails fast at startup rather than on
// the first extraction.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})
	return newRedisCache(client, cfg.Prefix)
}

// NewRedisCacheFromURL dials Redis from a redis:// connection string, the
// shape VulnDash's config.RedisConfig.URL carries.
func NewRedisCacheFromURL(rawURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("llmcache: parse redis url: %w", err)
	}
	return newRedisCache(redis.NewClient(opts), prefix)
}

func newRedisCache(client *redis.Client, prefix string) (*RedisCache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("llmcache: redis ping: %w", err)
	}

	if prefix == "" {
		prefix = "llmcache"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) redisKey(key Key) string {
	return c.prefix + ":" + key.String()
}

func (c *RedisCache) Get(ctx context.Context, key Key) (*Result, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("llmcache: redis get: %w", err)
	}

	result, err := unmarshalResult(data)
	if err != nil {
		_ = c.client.Del(ctx, c.redisKey(key))
		atomic.AddInt64(&c.misses, 1)
		return nil, nil
	}

	atomic.AddInt64(&c.hits, 1)
	result.HitCount++
	return result, nil
}

func (c *RedisCache) Put(ctx context.Context, key Key, result *Result, ttl time.Duration) error {
	data, err := marshalResult(result)
	if err != nil {
		return fmt.Errorf("llmcache: marshal result: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("llmcache: redis set: %w", err)
	}
	atomic.AddInt64(&c.puts, 1)
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("llmcache: redis del: %w", err)
	}
	atomic.AddInt64(&c.deletes, 1)
	return nil
}

func (c *RedisCache) Stats() Stats {
	return statsFrom(
		atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses),
		atomic.LoadInt64(&c.puts), atomic.LoadInt64(&c.deletes),
	)
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
