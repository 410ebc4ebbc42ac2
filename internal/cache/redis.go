package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisCache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// OpTimeout bounds each command (default 3s)
	OpTimeout time.Duration
}

// RedisCache shares cached responses between instances
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
}

// NewRedisCache creates a new redis-backed cache
func NewRedisCache(opts RedisOptions) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return newRedisCache(client, opts)
}

func newRedisCache(client *redis.Client, opts RedisOptions) *RedisCache {
	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RedisCache{client: client, ttl: opts.TTL, opTimeout: timeout}
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// Ping tests the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get retrieves a value; connection errors count as a miss
func (c *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a value; a zero ttl uses the cache default
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value
func (c *RedisCache) Delete(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key written by this application. Other keys in the
// database are left alone.
func (c *RedisCache) Clear() error {
	ctx, cancel := c.ctx()
	defer cancel()

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
