package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCapacity is returned when a bucket capacity is not positive
	ErrInvalidCapacity = errors.New("bucket capacity must be positive")

	// ErrInvalidRefillRate is returned when a refill rate is not positive
	ErrInvalidRefillRate = errors.New("refill rate must be positive")
)

// Params defines the rate limiting policy of a key class
type Params struct {
	Capacity   int64   // Maximum tokens (burst size)
	RefillRate float64 // Tokens added per second
}

// Validate checks that both parameters are usable.
func (p Params) Validate() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, p.Capacity)
	}
	if p.RefillRate <= 0 || math.IsNaN(p.RefillRate) || math.IsInf(p.RefillRate, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidRefillRate, p.RefillRate)
	}
	return nil
}

// Bucket is an immutable snapshot of one key's token bucket.
// Stores replace whole values; they never mutate a Bucket in place.
type Bucket struct {
	Key          string
	Tokens       float64   // Current tokens available, 0 <= Tokens <= Capacity
	Capacity     int64     // Burst size the bucket was created or rebased with
	RefillRate   float64   // Tokens per second
	LastRefillAt time.Time // Never decreases
	Generation   uint64    // Identity of this incarnation; changes when the key is recreated
	Version      uint64    // Incremented on every write
}

// NewBucket returns a full bucket for key.
func NewBucket(key string, params Params, now time.Time, generation uint64) Bucket {
	return Bucket{
		Key:          key,
		Tokens:       float64(params.Capacity),
		Capacity:     params.Capacity,
		RefillRate:   params.RefillRate,
		LastRefillAt: now,
		Generation:   generation,
	}
}

// Params returns the parameters the bucket currently runs with.
func (b Bucket) Params() Params {
	return Params{Capacity: b.Capacity, RefillRate: b.RefillRate}
}

// IdleSince reports whether the bucket has not been checked since cutoff.
func (b Bucket) IdleSince(cutoff time.Time) bool {
	return b.LastRefillAt.Before(cutoff)
}

// Decision contains the result of a rate limit check
type Decision struct {
	Allowed    bool          // Whether the request is allowed
	Remaining  float64       // Tokens remaining after this request
	Limit      int64         // Total capacity
	RetryAfter time.Duration // Time until the same cost would be admitted (0 if allowed)
}

// RetryAfterMs returns RetryAfter rounded up to whole milliseconds.
func (d Decision) RetryAfterMs() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	ms := int64(d.RetryAfter / time.Millisecond)
	if d.RetryAfter%time.Millisecond != 0 {
		ms++
	}
	return ms
}
