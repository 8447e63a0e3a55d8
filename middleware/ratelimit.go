// Package middleware adapts a tollgate limiter to net/http.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/KanavDutta/tollgate/pkg/tollgate"
)

// Allower is the part of *tollgate.Limiter the middleware uses.
type Allower interface {
	AllowN(ctx context.Context, key string, cost int64) (tollgate.Decision, error)
}

// CostFunc returns the number of tokens a request costs.
type CostFunc func(*http.Request) (int64, error)

// CostFromHeader reads the cost from a request header. A missing header costs 1.
func CostFromHeader(name string) CostFunc {
	return func(r *http.Request) (int64, error) {
		v := r.Header.Get(name)
		if v == "" {
			return 1, nil
		}
		cost, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: header %s: %v", tollgate.ErrInvalidCost, name, err)
		}
		return cost, nil
	}
}

type config struct {
	extract KeyExtractor
	prefix  string
	cost    CostFunc
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the middleware.
type Option func(*config)

// WithKeyExtractor sets how the rate limit key is derived. Default: ExtractIP().
func WithKeyExtractor(e KeyExtractor) Option {
	return func(c *config) {
		if e != nil {
			c.extract = e
		}
	}
}

// WithClass prefixes every key with "class:" so the limiter's default
// classifier applies that class's limits, e.g. a stricter "login" class on
// the login route.
func WithClass(class string) Option {
	return func(c *config) {
		c.prefix = class + ":"
	}
}

// WithCost sets how much a request costs. Default: 1.
func WithCost(fn CostFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.cost = fn
		}
	}
}

// WithLogger logs requests that fail for reasons other than rate limiting.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// RateLimit returns middleware that admits requests through l.
//
// Headers set on every checked request:
//   - X-RateLimit-Limit: bucket capacity
//   - X-RateLimit-Remaining: whole tokens left
//
// Rejected requests get 429 with:
//   - X-RateLimit-Reset: Unix time when the request would be admitted
//   - Retry-After: seconds to wait, rounded up
//
// Bad keys or costs answer 400; other limiter errors answer 500.
func RateLimit(l Allower, opts ...Option) func(http.Handler) http.Handler {
	c := &config{
		extract: ExtractIP(),
		cost:    func(*http.Request) (int64, error) { return 1, nil },
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := c.extract(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
				return
			}
			cost, err := c.cost(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_cost", err.Error())
				return
			}

			decision, err := l.AllowN(r.Context(), c.prefix+key, cost)
			switch {
			case errors.Is(err, tollgate.ErrInvalidKey):
				writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
				return
			case errors.Is(err, tollgate.ErrInvalidCost):
				writeError(w, http.StatusBadRequest, "invalid_cost", err.Error())
				return
			case err != nil:
				c.logger.ErrorContext(r.Context(), "rate limit check failed",
					slog.String("key", c.prefix+key),
					slog.Any("error", err),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "rate limit check failed")
				return
			}

			SetHeaders(w.Header(), decision, c.now())
			if !decision.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":          "rate_limit_exceeded",
					"message":        "Too many requests. Please try again later.",
					"retry_after_ms": decision.RetryAfterMs(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers for d, plus Retry-After when
// d was rejected.
func SetHeaders(h http.Header, d tollgate.Decision, now time.Time) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(math.Max(0, math.Floor(d.Remaining))), 10))

	if !d.Allowed {
		retrySec := int64(math.Ceil(d.RetryAfter.Seconds()))
		if retrySec < 1 {
			retrySec = 1
		}
		h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(d.RetryAfter).Unix(), 10))
		h.Set("Retry-After", strconv.FormatInt(retrySec, 10))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
