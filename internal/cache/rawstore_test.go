package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStore_SaveLoad(t *testing.T) {
	s := NewRawStore(NewMemoryCache(time.Hour, time.Minute), 0)

	_, _, ok := s.Latest()
	assert.False(t, ok, "empty store has no latest entry")

	require.NoError(t, s.Save("a", "first"))
	require.NoError(t, s.Save("b", "second"))

	raw, ok := s.Load("a")
	assert.True(t, ok)
	assert.Equal(t, "first", raw)

	id, raw, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Equal(t, "second", raw)

	_, ok = s.Load("missing")
	assert.False(t, ok)
}

func TestRawStore_ConcurrentRequestsKeepTheirOwnResponse(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	s := NewRawStore(redisCache, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			assert.NoError(t, s.Save(id, "raw-"+id))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("req-%d", i)
		raw, ok := s.Load(id)
		assert.True(t, ok)
		assert.Equal(t, "raw-"+id, raw)
	}
}
