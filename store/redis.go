package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/tollgate/core"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces bucket keys in Redis.
const DefaultRedisPrefix = "tollgate:"

// Each bucket is a hash: tokens, cap, rate, last (unix nanos), gen, ver.

// ARGV: tokens, cap, rate, last, gen, ttl_ms
var getOrCreateScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'tokens', 'cap', 'rate', 'last', 'gen', 'ver')
if v[1] then
  return v
end
redis.call('HSET', KEYS[1], 'tokens', ARGV[1], 'cap', ARGV[2], 'rate', ARGV[3], 'last', ARGV[4], 'gen', ARGV[5], 'ver', '0')
if tonumber(ARGV[6]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[6])
end
return {ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], '0'}
`)

// ARGV: old_gen, old_ver, tokens, cap, rate, last, ver, ttl_ms
var compareAndSwapScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'gen', 'ver')
if not cur[1] then
  return 0
end
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'tokens', ARGV[3], 'cap', ARGV[4], 'rate', ARGV[5], 'last', ARGV[6], 'ver', ARGV[7])
if tonumber(ARGV[8]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[8])
end
return 1
`)

// ARGV: cutoff (unix nanos)
var evictIfIdleScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last')
if not last then
  return 0
end
if tonumber(last) < tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisStore keeps buckets in Redis so several limiter instances share state.
// Every read-modify-write is a single Lua script, so Redis serializes them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration // Server-side expiry refreshed on every write
}

// Ensure RedisStore implements Store and Pinger
var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "tollgate:").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL sets the Redis expiry applied on every write (default 1 hour).
// Zero disables expiry; idle buckets are then only removed by EvictIdle.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a Redis-backed store on an existing client.
// Close closes the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the bucket for key, creating it if needed.
func (s *RedisStore) GetOrCreate(ctx context.Context, key string, params core.Params, now time.Time) (core.Bucket, error) {
	fresh := core.NewBucket(key, params, now, rand.Uint64())

	vals, err := getOrCreateScript.Run(ctx, s.client, []string{s.prefix + key},
		formatFloat(fresh.Tokens),
		strconv.FormatInt(fresh.Capacity, 10),
		formatFloat(fresh.RefillRate),
		strconv.FormatInt(fresh.LastRefillAt.UnixNano(), 10),
		strconv.FormatUint(fresh.Generation, 10),
		s.ttl.Milliseconds(),
	).StringSlice()
	if err != nil {
		return core.Bucket{}, unavailable(err)
	}

	b, err := decodeBucket(key, vals)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("decode bucket %q: %w", key, err)
	}
	return b, nil
}

// CompareAndSwap stores next if the stored generation and version match old.
func (s *RedisStore) CompareAndSwap(ctx context.Context, old, next core.Bucket) (bool, error) {
	swapped, err := compareAndSwapScript.Run(ctx, s.client, []string{s.prefix + old.Key},
		strconv.FormatUint(old.Generation, 10),
		strconv.FormatUint(old.Version, 10),
		formatFloat(next.Tokens),
		strconv.FormatInt(next.Capacity, 10),
		formatFloat(next.RefillRate),
		strconv.FormatInt(next.LastRefillAt.UnixNano(), 10),
		strconv.FormatUint(next.Version, 10),
		s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return swapped == 1, nil
}

// Delete removes the bucket for a given key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// EvictIdle scans the prefix and deletes buckets that are still idle when
// the delete runs.
func (s *RedisStore) EvictIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error) {
	cutoff := strconv.FormatInt(now.Add(-maxIdle).UnixNano(), 10)

	var removed atomic.Int64
	err := s.scan(ctx, func(ctx context.Context, key string) error {
		n, err := evictIfIdleScript.Run(ctx, s.client, []string{key}, cutoff).Int()
		if err != nil {
			return err
		}
		removed.Add(int64(n))
		return nil
	})
	if err != nil {
		return int(removed.Load()), unavailable(err)
	}
	return int(removed.Load()), nil
}

// Len counts bucket keys under the prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var n atomic.Int64
	err := s.scan(ctx, func(context.Context, string) error {
		n.Add(1)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n.Load()), nil
}

// Clear removes all bucket keys under the prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	err := s.scan(ctx, func(ctx context.Context, key string) error {
		return s.client.Del(ctx, key).Err()
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// scan calls fn for every key under the prefix. On a cluster client every
// master is scanned, concurrently.
func (s *RedisStore) scan(ctx context.Context, fn func(context.Context, string) error) error {
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scanNode(ctx, node, s.prefix+"*", fn)
		})
	}
	return scanNode(ctx, s.client, s.prefix+"*", fn)
}

func scanNode(ctx context.Context, c redis.Cmdable, match string, fn func(context.Context, string) error) error {
	iter := c.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(ctx, iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func decodeBucket(key string, vals []string) (core.Bucket, error) {
	if len(vals) != 6 {
		return core.Bucket{}, fmt.Errorf("expected 6 fields, got %d", len(vals))
	}

	tokens, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("tokens: %w", err)
	}
	capacity, err := strconv.ParseInt(vals[1], 10, 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("cap: %w", err)
	}
	rate, err := strconv.ParseFloat(vals[2], 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("rate: %w", err)
	}
	last, err := strconv.ParseInt(vals[3], 10, 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("last: %w", err)
	}
	gen, err := strconv.ParseUint(vals[4], 10, 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("gen: %w", err)
	}
	ver, err := strconv.ParseUint(vals[5], 10, 64)
	if err != nil {
		return core.Bucket{}, fmt.Errorf("ver: %w", err)
	}

	return core.Bucket{
		Key:          key,
		Tokens:       tokens,
		Capacity:     capacity,
		RefillRate:   rate,
		LastRefillAt: time.Unix(0, last),
		Generation:   gen,
		Version:      ver,
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
