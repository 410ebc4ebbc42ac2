package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ppiankov/reconcile/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return newRedisCache(client, RedisOptions{TTL: time.Hour}), mr
}

// exerciseCache runs the behaviour every backend must share
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()

	_, found := c.Get("missing")
	assert.False(t, found)

	require.NoError(t, c.Set(ImageKey("abc", "mock", "", ""), []byte("raw text"), 0))
	val, found := c.Get(ImageKey("abc", "mock", "", ""))
	assert.True(t, found)
	assert.Equal(t, "raw text", string(val))

	require.NoError(t, c.Delete(ImageKey("abc", "mock", "", "")))
	_, found = c.Get(ImageKey("abc", "mock", "", ""))
	assert.False(t, found)
	assert.NoError(t, c.Delete(ImageKey("abc", "mock", "", "")), "deleting a missing key is not an error")

	require.NoError(t, c.Set(RawKey("r1"), []byte("one"), 0))
	require.NoError(t, c.Set(RawKey("r2"), []byte("two"), 0))
	require.NoError(t, c.Clear())
	_, found = c.Get(RawKey("r1"))
	assert.False(t, found)
}

func TestBackends(t *testing.T) {
	redisCache, _ := newTestRedis(t)

	backends := map[string]Cache{
		"memory":  NewMemoryCache(time.Hour, time.Minute),
		"disk":    NewDiskCache(t.TempDir(), time.Hour),
		"layered": NewLayeredCache(time.Hour, t.TempDir(), time.Hour),
		"redis":   redisCache,
	}

	for name, c := range backends {
		t.Run(name, func(t *testing.T) {
			exerciseCache(t, c)
		})
	}
}

func TestKeys(t *testing.T) {
	key := ImageKey("payload", "openai", "gpt-4o", "prompt")
	assert.True(t, strings.HasPrefix(key, "reconcile:v1:img:"))
	assert.Len(t, strings.TrimPrefix(key, "reconcile:v1:img:"), 64)
	assert.Equal(t, key, ImageKey("payload", "openai", "gpt-4o", "prompt"))
	assert.NotEqual(t, key, ImageKey("other", "openai", "gpt-4o", "prompt"))
	assert.NotEqual(t, key, ImageKey("payload", "mock", "gpt-4o", "prompt"))
	assert.NotEqual(t, key, ImageKey("payload", "openai", "gpt-4o-mini", "prompt"))
	assert.NotEqual(t, key, ImageKey("payload", "openai", "gpt-4o", "custom"))
	assert.NotEqual(t, ImageKey("ab", "c", "", ""), ImageKey("a", "bc", "", ""), "parts are delimited")

	assert.Equal(t, "reconcile:v1:raw:req-1", RawKey("req-1"))
}

func TestDiskCache_Expiry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)

	require.NoError(t, c.Set("short", []byte("x"), time.Nanosecond))
	time.Sleep(time.Millisecond)
	_, found := c.Get("short")
	assert.False(t, found)

	forever := NewDiskCache(t.TempDir(), 0)
	require.NoError(t, forever.Set("k", []byte("x"), 0))
	_, found = forever.Get("k")
	assert.True(t, found, "zero ttl entries never expire")
}

func TestLayeredCache_PromotesBackHits(t *testing.T) {
	front := NewMemoryCache(time.Hour, time.Minute)
	back := NewDiskCache(t.TempDir(), time.Hour)
	c := NewTieredCache(front, back)

	require.NoError(t, back.Set("k", []byte("v"), 0))
	_, found := front.Get("k")
	require.False(t, found)

	val, found := c.Get("k")
	assert.True(t, found)
	assert.Equal(t, "v", string(val))

	_, found = front.Get("k")
	assert.True(t, found, "expected back-cache hit to be promoted")
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	c, mr := newTestRedis(t)

	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, c.Set(RawKey("r"), []byte("drop"), 0))
	require.NoError(t, c.Clear())

	assert.True(t, mr.Exists("other:key"))
	assert.False(t, mr.Exists(RawKey("r")))
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(RawKey("r"), []byte("v"), 0))
	assert.Equal(t, time.Hour, mr.TTL(RawKey("r")))

	mr.FastForward(2 * time.Hour)
	_, found := c.Get(RawKey("r"))
	assert.False(t, found)
}

func TestNew(t *testing.T) {
	for _, backend := range []string{"memory", "disk", "layered", "redis", "none"} {
		c, err := New(model.CacheConfig{Backend: backend, Dir: t.TempDir(), TTLMinutes: 1, RedisAddr: "localhost:0"})
		require.NoError(t, err, backend)
		assert.NotNil(t, c, backend)
	}

	_, err := New(model.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}
