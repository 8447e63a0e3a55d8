package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/tollgate/core"
)

// AtomicStore keeps each bucket behind an atomic pointer and updates it with
// compare-and-swap only. Eviction first swaps the pointer to nil (a
// tombstone) so any writer still holding the old bucket loses its CAS.
type AtomicStore struct {
	entries    sync.Map // map[string]*entry
	generation atomic.Uint64
}

type entry struct {
	bucket atomic.Pointer[core.Bucket]
}

// Ensure AtomicStore implements Store interface
var _ Store = (*AtomicStore)(nil)

// NewAtomicStore creates a lock-free in-memory store
func NewAtomicStore() *AtomicStore {
	return &AtomicStore{}
}

// GetOrCreate returns the live bucket for key, replacing tombstoned entries.
func (s *AtomicStore) GetOrCreate(ctx context.Context, key string, params core.Params, now time.Time) (core.Bucket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.Bucket{}, err
		}

		if v, ok := s.entries.Load(key); ok {
			e := v.(*entry)
			if b := e.bucket.Load(); b != nil {
				return *b, nil
			}
			s.entries.CompareAndDelete(key, e)
			continue
		}

		b := core.NewBucket(key, params, now, s.generation.Add(1))
		e := &entry{}
		e.bucket.Store(&b)
		if _, loaded := s.entries.LoadOrStore(key, e); !loaded {
			return b, nil
		}
	}
}

// CompareAndSwap stores next if the current bucket matches old.
func (s *AtomicStore) CompareAndSwap(ctx context.Context, old, next core.Bucket) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	v, ok := s.entries.Load(old.Key)
	if !ok {
		return false, nil
	}
	e := v.(*entry)
	cur := e.bucket.Load()
	if cur == nil || !sameIncarnation(*cur, old) {
		return false, nil
	}
	return e.bucket.CompareAndSwap(cur, &next), nil
}

// Delete tombstones and removes the bucket for key.
func (s *AtomicStore) Delete(ctx context.Context, key string) error {
	if v, ok := s.entries.Load(key); ok {
		e := v.(*entry)
		e.bucket.Store(nil)
		s.entries.CompareAndDelete(key, e)
	}
	return nil
}

// EvictIdle tombstones idle buckets. A bucket written between the idle check
// and the swap survives.
func (s *AtomicStore) EvictIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxIdle)
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		e := value.(*entry)
		cur := e.bucket.Load()
		if cur == nil {
			s.entries.CompareAndDelete(key, e)
			return true
		}
		if cur.IdleSince(cutoff) && e.bucket.CompareAndSwap(cur, nil) {
			s.entries.CompareAndDelete(key, e)
			removed++
		}
		return true
	})
	return removed, ctx.Err()
}

// Len counts live buckets.
func (s *AtomicStore) Len(ctx context.Context) (int, error) {
	n := 0
	s.entries.Range(func(_, value any) bool {
		if value.(*entry).bucket.Load() != nil {
			n++
		}
		return true
	})
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *AtomicStore) Close() error { return nil }
