package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/tollgate/core"
	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by NewMemoryStore.
const DefaultShards = 64

// MemoryStore keeps buckets in a lock-sharded map. A key always maps to the
// same shard, so holding the shard lock serializes all access to that key.
type MemoryStore struct {
	shards     []*shard
	generation atomic.Uint64
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]core.Bucket
}

// Ensure MemoryStore implements Store and Updater
var (
	_ Store   = (*MemoryStore)(nil)
	_ Updater = (*MemoryStore)(nil)
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithShards sets the number of shards. Values below 1 are ignored.
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{shards: make([]*shard, DefaultShards)}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[string]core.Bucket)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// GetOrCreate returns the bucket for key, creating it if needed.
func (s *MemoryStore) GetOrCreate(ctx context.Context, key string, params core.Params, now time.Time) (core.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return core.Bucket{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if b, ok := sh.buckets[key]; ok {
		return b, nil
	}
	b := core.NewBucket(key, params, now, s.generation.Add(1))
	sh.buckets[key] = b
	return b, nil
}

// CompareAndSwap stores next if the current bucket matches old.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, old, next core.Bucket) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := s.shard(old.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.buckets[old.Key]
	if !ok || !sameIncarnation(cur, old) {
		return false, nil
	}
	sh.buckets[old.Key] = next
	return true, nil
}

// Update runs fn on the key's bucket under the shard lock and stores the result.
func (s *MemoryStore) Update(ctx context.Context, key string, params core.Params, now time.Time, fn func(core.Bucket) core.Bucket) (core.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return core.Bucket{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		b = core.NewBucket(key, params, now, s.generation.Add(1))
	}
	next := fn(b)
	sh.buckets[key] = next
	return next, nil
}

// Delete removes the bucket for a given key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.buckets, key)
	sh.mu.Unlock()
	return nil
}

// EvictIdle removes idle buckets one shard at a time.
func (s *MemoryStore) EvictIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxIdle)
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if b.IdleSince(cutoff) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of buckets across all shards.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n, nil
}

// Clear removes all buckets
func (s *MemoryStore) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		clear(sh.buckets)
		sh.mu.Unlock()
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
