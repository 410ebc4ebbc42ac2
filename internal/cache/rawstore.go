package cache

import (
	"sync"
	"time"
)

// RawStore keeps raw model responses by request ID so they can be
// inspected after the parsed result has been returned
type RawStore struct {
	cache Cache
	ttl   time.Duration

	mu       sync.RWMutex
	latestID string
}

// NewRawStore stores responses in c with the given ttl (0 uses the cache default)
func NewRawStore(c Cache, ttl time.Duration) *RawStore {
	return &RawStore{cache: c, ttl: ttl}
}

// Save records raw under requestID and marks it as the latest entry
func (s *RawStore) Save(requestID, raw string) error {
	if err := s.cache.Set(RawKey(requestID), []byte(raw), s.ttl); err != nil {
		return err
	}

	s.mu.Lock()
	s.latestID = requestID
	s.mu.Unlock()
	return nil
}

// Load returns the raw response saved for requestID
func (s *RawStore) Load(requestID string) (string, bool) {
	data, ok := s.cache.Get(RawKey(requestID))
	if !ok {
		return "", false
	}
	return string(data), true
}

// Latest returns the most recent response saved through this store.
// Under concurrent requests "most recent" is only best effort.
func (s *RawStore) Latest() (requestID, raw string, ok bool) {
	s.mu.RLock()
	id := s.latestID
	s.mu.RUnlock()

	if id == "" {
		return "", "", false
	}
	raw, ok = s.Load(id)
	return id, raw, ok
}
