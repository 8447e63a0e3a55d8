// Package tollgate provides token bucket admission control for Go services.
//
// Every key (a user, API key, IP address, ...) gets its own bucket holding up to
// Capacity tokens, refilled continuously at RefillRate tokens per second. A
// request of cost n is admitted if n tokens are available and consumes them;
// otherwise it is rejected with the time after which it would be admitted.
//
// # Quick Start
//
//	limiter, err := tollgate.New(
//	    tollgate.WithDefaults(100, 10.0), // 100 tokens, 10/sec refill
//	    tollgate.WithFailurePolicy(tollgate.FailOpen),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := limiter.Allow(ctx, "user-123")
//	if err != nil {
//	    return err // invalid key or cost
//	}
//	if !decision.Allowed {
//	    fmt.Printf("Rate limited. Retry after %v\n", decision.RetryAfter)
//	}
//
// # Key Classes
//
// Keys are grouped into classes that share parameters. The default
// classifier takes the part of the key before the first ':' so that
// "login:10.0.0.1" belongs to class "login":
//
//	limiter.Configure("login", 5, 0.1)
//	limiter.Configure("search", 50, 20)
//
// Keys of unknown classes use DefaultClass.
//
// # Configuration
//
//	default_class:
//	  capacity: 100
//	  refill_rate: 10.0
//	classes:
//	  login:
//	    capacity: 5
//	    refill_rate: 0.083  # ~5 req/min
//	failure_policy: fail-closed
//	max_idle: 1h
//	sweep_interval: 10m
//	store_timeout: 50ms
//
// # Stores
//
// Bucket state lives in a store.Store. store.MemoryStore (lock-sharded) is the
// default; store.AtomicStore updates buckets with compare-and-swap only;
// store.RedisStore shares buckets between processes. Stores that cannot be
// reached within the store timeout trigger the failure policy, which must be
// chosen explicitly.
//
// # Eviction
//
// Buckets unchecked for longer than the max idle duration are removed by Run
// (or StartBackgroundCleanup). A key that comes back starts with a full bucket.
package tollgate
