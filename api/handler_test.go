package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KanavDutta/tollgate/clock"
	"github.com/KanavDutta/tollgate/metrics"
	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"github.com/KanavDutta/tollgate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts ...tollgate.Option) (*http.ServeMux, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	base := []tollgate.Option{
		tollgate.WithClock(clock.NewFake(time.Unix(1_700_000_000, 0))),
		tollgate.WithFailurePolicy(tollgate.FailClosed),
		tollgate.WithRecorder(m),
	}
	l, err := tollgate.New(append(base, opts...)...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(l, nil).Register(mux)
	mux.Handle("GET /v1/metrics", NewMetricsHandler(m))
	return mux, m
}

func ptr[T any](v T) *T { return &v }

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAllow_AllowsRequests(t *testing.T) {
	mux, _ := newServer(t, tollgate.WithDefaults(10, 5))

	w := do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "test-user"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp AllowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, int64(10), resp.Limit)
	assert.InDelta(t, 9, resp.Remaining, 1e-9)
	assert.Equal(t, tollgate.DefaultClass, resp.Class)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
}

func TestAllow_BlocksWhenExceeded(t *testing.T) {
	mux, m := newServer(t, tollgate.WithDefaults(5, 2))

	for i := 0; i < 5; i++ {
		w := do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "test-user"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "test-user"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var resp AllowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, int64(500), resp.RetryAfterMs)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(6), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.RejectedRequests)
}

func TestAllow_Cost(t *testing.T) {
	mux, _ := newServer(t, tollgate.WithDefaults(10, 1))

	w := do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k", Cost: ptr(int64(10))})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k", Cost: ptr(int64(11))})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k", Cost: ptr(int64(-1))})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllow_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing key", `{}`, "invalid_key"},
		{"invalid json", `{not json`, "invalid_request"},
		{"zero cost", `{"key":"k","cost":0}`, "invalid_cost"},
		{"negative cost", `{"key":"k","cost":-2}`, "invalid_cost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newServer(t, tollgate.WithDefaults(5, 1))

			req := httptest.NewRequest(http.MethodPost, "/v1/allow", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Error)

			// Nothing was consumed
			ok := do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k"})
			var allowed AllowResponse
			require.NoError(t, json.NewDecoder(ok.Body).Decode(&allowed))
			assert.InDelta(t, 4, allowed.Remaining, 1e-9)
		})
	}

	mux, _ := newServer(t)
	w := do(t, mux, http.MethodGet, "/v1/allow", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAllow_MissingCostDefaultsToOne(t *testing.T) {
	mux, _ := newServer(t, tollgate.WithDefaults(5, 1))

	req := httptest.NewRequest(http.MethodPost, "/v1/allow", bytes.NewBufferString(`{"key":"k"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AllowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, 4, resp.Remaining, 1e-9)
}

func TestConfigureClass(t *testing.T) {
	mux, _ := newServer(t)

	w := do(t, mux, http.MethodPut, "/v1/classes/premium", ClassConfig{Capacity: 20, RefillRatePerSec: 2})
	require.Equal(t, http.StatusOK, w.Code)

	// Repeating the same configuration is accepted
	w = do(t, mux, http.MethodPut, "/v1/classes/premium", ClassConfig{Capacity: 20, RefillRatePerSec: 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "premium:acme"})
	var resp AllowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "premium", resp.Class)
	assert.Equal(t, int64(20), resp.Limit)

	w = do(t, mux, http.MethodGet, "/v1/classes", nil)
	var classes []ClassConfig
	require.NoError(t, json.NewDecoder(w.Body).Decode(&classes))
	require.Len(t, classes, 2)
	assert.Equal(t, "default", classes[0].Class)
	assert.Equal(t, "premium", classes[1].Class)

	w = do(t, mux, http.MethodPut, "/v1/classes/broken", ClassConfig{Capacity: 0, RefillRatePerSec: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, mux, http.MethodPut, "/v1/classes/tier:gold", ClassConfig{Capacity: 5, RefillRatePerSec: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetBucket(t *testing.T) {
	mux, _ := newServer(t, tollgate.WithDefaults(1, 0.01))

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k"}).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k"}).Code)

	w := do(t, mux, http.MethodDelete, "/v1/buckets/k", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k"}).Code)
}

func TestHealth(t *testing.T) {
	mux, _ := newServer(t)

	w := do(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["buckets"])
	assert.Equal(t, "fail-closed", body["failure_policy"])
}

// countFailingStore answers checks but cannot count its buckets.
type countFailingStore struct{ store.Store }

func (countFailingStore) Len(context.Context) (int, error) {
	return 0, errors.New("scan interrupted")
}

func TestHealth_BucketCountFails(t *testing.T) {
	mux, _ := newServer(t, tollgate.WithStore(countFailingStore{store.NewMemoryStore()}))

	w := do(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.NotContains(t, body, "buckets")
	assert.Equal(t, "scan interrupted", body["buckets_error"])
}

func TestHealth_StoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mux, _ := newServer(t, tollgate.WithStore(s))

	mr.Close()

	w := do(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Admission still answers, per the failure policy
	w = do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "k"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp AllowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Degraded)
}

func TestMetricsHandler(t *testing.T) {
	mux, _ := newServer(t)
	do(t, mux, http.MethodPost, "/v1/allow", AllowRequest{Key: "login:x"})

	w := do(t, mux, http.MethodGet, "/v1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.TotalRequests)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(slog.New(slog.DiscardHandler), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Len(t, seen, 36, "generated IDs are UUIDs")
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
}
