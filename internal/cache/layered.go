package cache

import (
	"errors"
	"time"
)

// LayeredCache reads through a fast front cache to a durable back cache
type LayeredCache struct {
	front Cache
	back  Cache
}

// NewLayeredCache creates a memory cache in front of a disk cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return NewTieredCache(NewMemoryCache(memoryTTL, 10*time.Minute), NewDiskCache(diskDir, diskTTL))
}

// NewTieredCache layers any two caches
func NewTieredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

// Get checks the front cache first and promotes back-cache hits
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.front.Get(key); found {
		return val, true
	}

	val, found := c.back.Get(key)
	if !found {
		return nil, false
	}
	_ = c.front.Set(key, val, 0)
	return val, true
}

// Set stores a value in both caches. The back cache is written first so a
// failed write never leaves a value only in memory.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.back.Set(key, value, ttl); err != nil {
		return err
	}
	return c.front.Set(key, value, ttl)
}

// Delete removes a value from both caches
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.front.Delete(key), c.back.Delete(key))
}

// Clear removes all values from both caches
func (c *LayeredCache) Clear() error {
	return errors.Join(c.front.Clear(), c.back.Clear())
}
