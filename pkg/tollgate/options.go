package tollgate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KanavDutta/tollgate/clock"
	"github.com/KanavDutta/tollgate/store"
)

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter) error

// WithStore sets the bucket store.
// If not provided, a sharded in-memory store is used.
func WithStore(s store.Store) Option {
	return func(l *Limiter) error {
		if s == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		l.store = s
		return nil
	}
}

// WithClock sets the time source. Tests use clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) error {
		if c == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		l.clock = c
		return nil
	}
}

// WithConfig applies a configuration. Classes are added to any already
// configured; zero durations and an unset failure policy leave the current
// values alone.
func WithConfig(config *Config) Option {
	return func(l *Limiter) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		if err := config.Validate(); err != nil {
			return err
		}

		l.classes.set(DefaultClass, config.DefaultClass.Params())
		for name, class := range config.Classes {
			l.classes.set(name, class.Params())
		}
		if config.FailurePolicy.valid() {
			l.failure = config.FailurePolicy
		}
		if config.MaxIdle > 0 {
			l.maxIdle = config.MaxIdle
		}
		if config.SweepInterval > 0 {
			l.sweepInterval = config.SweepInterval
		}
		if config.StoreTimeout > 0 {
			l.storeTimeout = config.StoreTimeout
		}
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(l *Limiter) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		return WithConfig(config)(l)
	}
}

// WithDefaults sets the default class parameters.
// This is a convenience option for basic use cases.
func WithDefaults(capacity int64, refillRate float64) Option {
	return WithClass(DefaultClass, capacity, refillRate)
}

// WithClass configures a named key class.
func WithClass(name string, capacity int64, refillRate float64) Option {
	return func(l *Limiter) error {
		return l.configure(name, capacity, refillRate)
	}
}

// WithClassifier sets how keys map to classes.
// By default the part of the key before the first ':' is the class.
// With a custom classifier any non-empty class name is accepted.
func WithClassifier(fn Classifier) Option {
	return func(l *Limiter) error {
		if fn == nil {
			return fmt.Errorf("%w: classifier cannot be nil", ErrInvalidConfig)
		}
		l.classify = fn
		l.classSep = ""
		return nil
	}
}

// WithFailurePolicy sets what happens when the store is unavailable.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) error {
		if !p.valid() {
			return fmt.Errorf("%w: invalid failure policy %d", ErrInvalidConfig, p)
		}
		l.failure = p
		return nil
	}
}

// WithStoreTimeout bounds every store round trip made by a check.
// Zero disables the limiter's own timeout; the caller's context still applies.
// Default: 100ms
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) error {
		if d < 0 {
			return fmt.Errorf("%w: store timeout cannot be negative", ErrInvalidConfig)
		}
		l.storeTimeout = d
		return nil
	}
}

// WithMaxRetries bounds optimistic update attempts per check.
// Default: 1000
func WithMaxRetries(n int) Option {
	return func(l *Limiter) error {
		if n < 1 {
			return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidConfig)
		}
		l.maxRetries = n
		return nil
	}
}

// WithClosedRetryAfter sets the RetryAfter reported by fail-closed decisions.
// Default: 1s
func WithClosedRetryAfter(d time.Duration) Option {
	return func(l *Limiter) error {
		if d <= 0 {
			return fmt.Errorf("%w: retry after must be positive", ErrInvalidConfig)
		}
		l.closedRetryAfter = d
		return nil
	}
}

// WithMaxIdle sets how long a bucket may go unchecked before eviction.
// Zero disables eviction. Default: 1 hour
func WithMaxIdle(d time.Duration) Option {
	return func(l *Limiter) error {
		if d < 0 {
			return fmt.Errorf("%w: max idle cannot be negative", ErrInvalidConfig)
		}
		l.maxIdle = d
		return nil
	}
}

// WithSweepInterval sets how often Run evicts idle buckets.
// Default: 10 minutes
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) error {
		if d < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
		}
		l.sweepInterval = d
		return nil
	}
}

// WithLogger sets the structured logger. Default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		l.logger = logger
		return nil
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) error {
		if r == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		l.recorder = r
		return nil
	}
}
