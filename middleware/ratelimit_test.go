package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KanavDutta/tollgate/clock"
	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
})

func newLimiter(t *testing.T, opts ...tollgate.Option) *tollgate.Limiter {
	t.Helper()
	base := []tollgate.Option{
		tollgate.WithClock(clock.NewFake(time.Unix(1_700_000_000, 0))),
		tollgate.WithFailurePolicy(tollgate.FailClosed),
	}
	l, err := tollgate.New(append(base, opts...)...)
	require.NoError(t, err)
	return l
}

func serve(h http.Handler, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsThenRejects(t *testing.T) {
	l := newLimiter(t, tollgate.WithDefaults(3, 1))
	h := RateLimit(l)(okHandler)

	for i := 0; i < 3; i++ {
		w := serve(h, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := serve(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, float64(1000), body["retry_after_ms"])
}

func TestRateLimit_SeparateClients(t *testing.T) {
	l := newLimiter(t, tollgate.WithDefaults(1, 1))
	h := RateLimit(l)(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, nil).Code)

	w := serve(h, func(r *http.Request) { r.RemoteAddr = "10.0.0.9:1" })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_ClassPrefix(t *testing.T) {
	l := newLimiter(t, tollgate.WithDefaults(100, 10), tollgate.WithClass("login", 2, 0.1))
	login := RateLimit(l, WithClass("login"))(okHandler)
	other := RateLimit(l)(okHandler)

	assert.Equal(t, "2", serve(login, nil).Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "100", serve(other, nil).Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_Cost(t *testing.T) {
	l := newLimiter(t, tollgate.WithDefaults(10, 1))
	h := RateLimit(l, WithCost(CostFromHeader("X-Cost")))(okHandler)

	w := serve(h, func(r *http.Request) { r.Header.Set("X-Cost", "8") })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))

	w = serve(h, func(r *http.Request) { r.Header.Set("X-Cost", "3") })
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	tests := []struct {
		name string
		cost string
	}{
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-1"},
		{"above capacity", "11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, func(r *http.Request) { r.Header.Set("X-Cost", tt.cost) })
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRateLimit_KeyExtractionFailure(t *testing.T) {
	l := newLimiter(t)
	h := RateLimit(l, WithKeyExtractor(ExtractHeader("X-API-Key")))(okHandler)

	w := serve(h, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, func(r *http.Request) { r.Header.Set("X-API-Key", "k1") })
	assert.Equal(t, http.StatusOK, w.Code)
}

type errAllower struct{ err error }

func (a errAllower) AllowN(context.Context, string, int64) (tollgate.Decision, error) {
	return tollgate.Decision{}, a.err
}

func TestRateLimit_LimiterErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid key", tollgate.ErrInvalidKey, http.StatusBadRequest},
		{"invalid cost", tollgate.ErrCostExceedsCapacity, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(errAllower{tt.err})(okHandler)
			assert.Equal(t, tt.want, serve(h, nil).Code)
		})
	}
}

func TestSetHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := tollgate.Decision{}
	d.Limit = 10
	d.Remaining = 2.7
	d.RetryAfter = 1500 * time.Millisecond

	h := http.Header{}
	SetHeaders(h, d, now)

	assert.Equal(t, "10", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", h.Get("Retry-After"))
	assert.Equal(t, "1700000001", h.Get("X-RateLimit-Reset"))
}
