package core

import (
	"math"
	"time"
)

// epsilon absorbs float rounding so that a request retried exactly
// RetryAfter later is admitted.
const epsilon = 1e-9

// Refill returns the token count after elapsed time, capped at capacity.
// Negative elapsed time adds nothing.
func Refill(elapsed time.Duration, refillRate float64, capacity int64, tokens float64) float64 {
	limit := float64(capacity)
	if elapsed <= 0 {
		return math.Min(tokens, limit)
	}
	return math.Min(limit, tokens+elapsed.Seconds()*refillRate)
}

// Check refills b up to now and tries to consume cost tokens.
// The returned bucket must be persisted whether or not the request was
// allowed, so the refill is not lost.
func Check(b Bucket, now time.Time, cost int64) (Bucket, Decision) {
	next := b
	next.Version++
	if now.After(b.LastRefillAt) {
		next.LastRefillAt = now
	}
	next.Tokens = Refill(now.Sub(b.LastRefillAt), b.RefillRate, b.Capacity, b.Tokens)

	need := float64(cost)
	if next.Tokens+epsilon >= need {
		next.Tokens = math.Max(0, next.Tokens-need)
		return next, Decision{
			Allowed:   true,
			Remaining: next.Tokens,
			Limit:     b.Capacity,
		}
	}

	// Request blocked - time until enough tokens accumulate
	wait := (need - next.Tokens) / b.RefillRate
	return next, Decision{
		Allowed:    false,
		Remaining:  next.Tokens,
		Limit:      b.Capacity,
		RetryAfter: waitDuration(wait),
	}
}

// waitDuration converts seconds to a Duration rounded up, saturating at the
// largest Duration for waits beyond its range.
func waitDuration(seconds float64) time.Duration {
	ns := math.Ceil(seconds * float64(time.Second))
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Rebase moves b onto new parameters: tokens earned under the old rate up
// to now are kept, then clamped to the new capacity.
func (b Bucket) Rebase(now time.Time, params Params) Bucket {
	if b.Params() == params {
		return b
	}
	next := b
	if now.After(b.LastRefillAt) {
		next.LastRefillAt = now
	}
	next.Tokens = Refill(now.Sub(b.LastRefillAt), b.RefillRate, b.Capacity, b.Tokens)
	next.Tokens = math.Min(next.Tokens, float64(params.Capacity))
	next.Capacity = params.Capacity
	next.RefillRate = params.RefillRate
	return next
}
