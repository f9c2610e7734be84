// Package cache stores the last successful tracking result per key.
package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// Store is the result cache. Put replaces the whole entry atomically; a ttl of
// zero keeps the entry until it is invalidated.
type Store interface {
	Get(ctx context.Context, key string) (shipment.Result, bool, error)
	Put(ctx context.Context, key string, result shipment.Result, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	// Purge drops every carrier slot cached for a tracking number.
	Purge(ctx context.Context, number string) (int, error)
}

const shardCount = 32

type entry struct {
	result  shipment.Result
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// MemoryStore is a sharded in-process Store. Expiry is checked on read.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

// WithClock replaces the time source used for expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Get(_ context.Context, key string) (shipment.Result, bool, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return shipment.Result{}, false, nil
	}
	if e.expired(s.now()) {
		sh.mu.Lock()
		// a concurrent Put may have replaced the entry meanwhile
		if current, ok := sh.entries[key]; ok && current.expired(s.now()) {
			delete(sh.entries, key)
		}
		sh.mu.Unlock()
		return shipment.Result{}, false, nil
	}
	return e.result.Clone(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, result shipment.Result, ttl time.Duration) error {
	e := entry{result: result.Clone()}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, number string) (int, error) {
	prefix := numberPrefix(number)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key := range sh.entries {
			if strings.HasPrefix(key, prefix) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
