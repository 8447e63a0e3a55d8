// Package store holds token bucket state. Every implementation gives
// linearizable read-modify-write per key: either through Update, which runs
// the caller's function under the key's lock, or through CompareAndSwap on
// the bucket's (Generation, Version) pair.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/KanavDutta/tollgate/core"
)

// ErrUnavailable is returned when the backing store cannot be reached
// or did not answer in time.
var ErrUnavailable = errors.New("bucket store unavailable")

// Store defines the interface for bucket state storage
type Store interface {
	// GetOrCreate returns the bucket for key, creating a full one with params
	// if none exists. Concurrent callers for an unseen key get the same bucket.
	GetOrCreate(ctx context.Context, key string, params core.Params, now time.Time) (core.Bucket, error)

	// CompareAndSwap replaces old with next if the stored bucket still has
	// old's Generation and Version. It reports false when the bucket changed
	// or no longer exists; it never creates a bucket.
	CompareAndSwap(ctx context.Context, old, next core.Bucket) (bool, error)

	// Delete removes the bucket for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// EvictIdle removes buckets not refilled within maxIdle of now and
	// returns how many were removed.
	EvictIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error)

	// Len returns the number of live buckets.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Updater is implemented by stores that can run a read-modify-write while
// holding the key's lock. fn must be fast and must not call the store.
type Updater interface {
	Update(ctx context.Context, key string, params core.Params, now time.Time, fn func(core.Bucket) core.Bucket) (core.Bucket, error)
}

// Pinger is implemented by stores with a remote backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

func sameIncarnation(a, b core.Bucket) bool {
	return a.Generation == b.Generation && a.Version == b.Version
}
