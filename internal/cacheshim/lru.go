package cacheshim

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// LRUStore is an in-process Store bounded by entry count, evicting least
// recently used entries once full. It is the default cache tier when no
// Redis endpoint is configured, and the L1 tier in front of one.
type LRUStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, lruEntry]
}

// NewLRUStore builds an in-process cache holding at most size entries.
func NewLRUStore(size int) *LRUStore {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, lruEntry](size)
	return &LRUStore{cache: c}
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *LRUStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.cache.Add(key, lruEntry{value: value, expiresAt: expiresAt})
	return nil
}

func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

func (s *LRUStore) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}
