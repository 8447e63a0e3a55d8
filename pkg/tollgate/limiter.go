package tollgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KanavDutta/tollgate/clock"
	"github.com/KanavDutta/tollgate/core"
	"github.com/KanavDutta/tollgate/store"
)

// Decision contains the result of a rate limit check.
type Decision struct {
	core.Decision

	// Key is the rate limit key that was checked
	Key string

	// Class is the effective class of the key
	Class string

	// Degraded is true when the store could not be consulted and the
	// failure policy produced this decision
	Degraded bool
}

// Recorder receives decision telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordDecision(ctx context.Context, class string, allowed bool, latency time.Duration)
	RecordFallback(ctx context.Context, class string, allowed bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, string, bool, time.Duration) {}
func (nopRecorder) RecordFallback(context.Context, string, bool)                {}

// Limiter admits or rejects requests per key using token buckets kept in a
// store.Store. It is safe for concurrent use.
type Limiter struct {
	store            store.Store
	clock            clock.Clock
	classes          *classRegistry
	classify         Classifier
	classSep         string // Separator of the default classifier; "" once a custom one is set
	failure          FailurePolicy
	storeTimeout     time.Duration
	maxRetries       int
	closedRetryAfter time.Duration
	maxIdle          time.Duration
	sweepInterval    time.Duration
	logger           *slog.Logger
	recorder         Recorder
}

// New creates a Limiter with the given options. A failure policy is required,
// either through WithFailurePolicy or a config file.
//
// Example:
//
//	limiter, err := tollgate.New(
//	    tollgate.WithDefaults(100, 10.0),  // 100 tokens, 10/sec refill
//	    tollgate.WithFailurePolicy(tollgate.FailOpen),
//	)
func New(opts ...Option) (*Limiter, error) {
	defaults := NewConfig()
	l := &Limiter{
		clock:            clock.New(),
		classes:          newClassRegistry(defaults.DefaultClass.Params()),
		classify:         PrefixClassifier(classSeparator),
		classSep:         classSeparator,
		storeTimeout:     defaults.StoreTimeout,
		maxRetries:       1000,
		closedRetryAfter: time.Second,
		maxIdle:          defaults.MaxIdle,
		sweepInterval:    defaults.SweepInterval,
		logger:           slog.New(slog.DiscardHandler),
		recorder:         nopRecorder{},
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Options may set classes before the classifier, so names are checked here
	for name := range l.classes.snapshot() {
		if err := l.checkClassName(name); err != nil {
			return nil, err
		}
	}

	if !l.failure.valid() {
		return nil, fmt.Errorf("%w: failure policy must be set to fail-open or fail-closed", ErrInvalidConfig)
	}

	if l.store == nil {
		l.store = store.NewMemoryStore()
	}

	return l, nil
}

// Allow checks a request of cost 1.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks whether a request of the given cost is admitted for key and
// consumes the tokens if so. Store failures and timeouts do not surface as
// errors: the failure policy decides and the decision is marked Degraded.
// Returned errors are caller errors (ErrInvalidKey, ErrInvalidCost) or
// cancellation of ctx.
func (l *Limiter) AllowN(ctx context.Context, key string, cost int64) (Decision, error) {
	if err := validateKey(key); err != nil {
		return Decision{}, err
	}
	if cost <= 0 {
		return Decision{}, fmt.Errorf("%w: must be positive, got %d", ErrInvalidCost, cost)
	}

	class, params := l.classes.resolve(l.classify(key))
	if cost > params.Capacity {
		return Decision{}, fmt.Errorf("%w: cost %d, class %s capacity %d", ErrCostExceedsCapacity, cost, class, params.Capacity)
	}

	start := time.Now()
	storeCtx := ctx
	if l.storeTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()
	}

	result, err := l.check(storeCtx, key, params, cost)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Decision{}, fmt.Errorf("check %q: %w", key, err)
		}
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrContention) {
			return l.fallback(ctx, key, class, params, err), nil
		}
		return Decision{}, fmt.Errorf("check %q: %w", key, err)
	}

	l.recorder.RecordDecision(ctx, class, result.Allowed, time.Since(start))
	return Decision{Decision: result, Key: key, Class: class}, nil
}

// check runs one linearizable refill-and-consume for key.
func (l *Limiter) check(ctx context.Context, key string, params core.Params, cost int64) (core.Decision, error) {
	var result core.Decision
	apply := func(now time.Time) func(core.Bucket) core.Bucket {
		return func(b core.Bucket) core.Bucket {
			next, d := core.Check(b.Rebase(now, params), now, cost)
			result = d
			return next
		}
	}

	if u, ok := l.store.(store.Updater); ok {
		now := l.clock.Now()
		if _, err := u.Update(ctx, key, params, now, apply(now)); err != nil {
			return core.Decision{}, err
		}
		return result, nil
	}

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		now := l.clock.Now()
		b, err := l.store.GetOrCreate(ctx, key, params, now)
		if err != nil {
			return core.Decision{}, err
		}

		next := apply(now)(b)
		swapped, err := l.store.CompareAndSwap(ctx, b, next)
		if err != nil {
			return core.Decision{}, err
		}
		if swapped {
			return result, nil
		}

		// Lost to another writer or to eviction; start over from the store.
		if err := ctx.Err(); err != nil {
			return core.Decision{}, err
		}
	}

	return core.Decision{}, fmt.Errorf("%w: key %q after %d attempts", ErrContention, key, l.maxRetries)
}

func (l *Limiter) fallback(ctx context.Context, key, class string, params core.Params, cause error) Decision {
	d := Decision{Key: key, Class: class, Degraded: true}
	d.Limit = params.Capacity
	if l.failure == FailOpen {
		d.Allowed = true
	} else {
		d.RetryAfter = l.closedRetryAfter
	}

	l.logger.WarnContext(ctx, "rate limit store failed, applying failure policy",
		slog.String("key", key),
		slog.String("class", class),
		slog.String("policy", l.failure.String()),
		slog.Bool("allowed", d.Allowed),
		slog.Any("error", cause),
	)
	l.recorder.RecordFallback(ctx, class, d.Allowed)
	return d
}

// Configure sets the capacity and refill rate of a key class. Configuring
// DefaultClass changes the parameters of unclassified keys. Repeating a call
// with the same values changes nothing. Existing buckets of the class pick
// up the new parameters on their next check.
//
// With the default classifier, class names cannot contain ':'.
func (l *Limiter) Configure(class string, capacity int64, refillRatePerSec float64) error {
	if err := l.checkClassName(class); err != nil {
		return err
	}
	return l.configure(class, capacity, refillRatePerSec)
}

// checkClassName rejects names the default classifier could never produce.
func (l *Limiter) checkClassName(class string) error {
	if class == "" {
		return fmt.Errorf("%w: class name cannot be empty", ErrInvalidConfig)
	}
	if l.classSep != "" && strings.Contains(class, l.classSep) {
		return fmt.Errorf("%w: class name %q contains the key separator %q", ErrInvalidConfig, class, l.classSep)
	}
	return nil
}

func (l *Limiter) configure(class string, capacity int64, refillRatePerSec float64) error {
	if class == "" {
		return fmt.Errorf("%w: class name cannot be empty", ErrInvalidConfig)
	}
	params := core.Params{Capacity: capacity, RefillRate: refillRatePerSec}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: class %s: %w", ErrInvalidConfig, class, err)
	}

	if l.classes.set(class, params) {
		l.logger.Info("rate limit class configured",
			slog.String("class", class),
			slog.Int64("capacity", capacity),
			slog.Float64("refill_rate", refillRatePerSec),
		)
	}
	return nil
}

// Classes returns a copy of the configured classes, including DefaultClass.
func (l *Limiter) Classes() map[string]core.Params {
	return l.classes.snapshot()
}

// FailurePolicy returns the configured failure policy.
func (l *Limiter) FailurePolicy() FailurePolicy {
	return l.failure
}

// Reset drops the bucket for key; its next check starts from a full bucket.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset %q: %w", key, err)
	}
	return nil
}

// Len returns the number of buckets held by the store.
func (l *Limiter) Len(ctx context.Context) (int, error) {
	return l.store.Len(ctx)
}

// Ping checks the store when it has a remote backend.
func (l *Limiter) Ping(ctx context.Context) error {
	if p, ok := l.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
