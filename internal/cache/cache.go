package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ppiankov/reconcile/internal/model"
)

const keyPrefix = "reconcile:v1:"

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// ImageKey identifies a model response by the image it was produced from
// and the provider, model and prompt that produced it
func ImageKey(payload, provider, model, prompt string) string {
	h := sha256.New()
	for _, part := range []string{provider, model, prompt, payload} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyPrefix + "img:" + hex.EncodeToString(h.Sum(nil))
}

// RawKey identifies a raw model response by request ID
func RawKey(requestID string) string {
	return keyPrefix + "raw:" + requestID
}

// NoopCache stores nothing
type NoopCache struct{}

func (NoopCache) Get(key string) ([]byte, bool)                         { return nil, false }
func (NoopCache) Set(key string, value []byte, ttl time.Duration) error { return nil }
func (NoopCache) Delete(key string) error                               { return nil }
func (NoopCache) Clear() error                                          { return nil }

// New builds the backend selected in cfg
func New(cfg model.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryCache(ttl, 10*time.Minute), nil
	case "disk":
		return NewDiskCache(cfg.Dir, ttl), nil
	case "layered":
		return NewLayeredCache(ttl, cfg.Dir, ttl), nil
	case "redis":
		return NewRedisCache(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      ttl,
		}), nil
	case "none":
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
