package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var (
	_ tollgate.Recorder = (*Metrics)(nil)
	_ tollgate.Recorder = (*OTel)(nil)
	_ tollgate.Recorder = Multi(nil)
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.RecordDecision(ctx, "login", true, time.Millisecond)
	m.RecordDecision(ctx, "login", false, time.Millisecond)
	m.RecordDecision(ctx, "default", true, time.Millisecond)
	m.RecordFallback(ctx, "login", true)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.AllowedRequests)
	assert.Equal(t, int64(1), snap.RejectedRequests)
	assert.Equal(t, int64(1), snap.DegradedRequests)

	require.Len(t, snap.Classes, 2)
	assert.Equal(t, "login", snap.Classes[0].Class, "busiest class first")
	assert.Equal(t, int64(3), snap.Classes[0].TotalRequests)
	assert.Equal(t, int64(1), snap.Classes[0].DegradedRequests)
	assert.Equal(t, "default", snap.Classes[1].Class)
}

func TestOTel_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewOTel(provider)
	require.NoError(t, err)

	ctx := context.Background()
	rec.RecordDecision(ctx, "login", true, 2*time.Millisecond)
	rec.RecordDecision(ctx, "login", true, 3*time.Millisecond)
	rec.RecordDecision(ctx, "login", false, time.Millisecond)
	rec.RecordFallback(ctx, "login", false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	decisions, ok := byName["tollgate.decisions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range decisions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, decisions.DataPoints, 2, "one series per outcome")

	fallbacks, ok := byName["tollgate.fallbacks"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, fallbacks.DataPoints, 1)
	assert.Equal(t, int64(1), fallbacks.DataPoints[0].Value)

	latency, ok := byName["tollgate.check.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, latency.DataPoints, 1)
	assert.Equal(t, uint64(3), latency.DataPoints[0].Count)
}

func TestMulti(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	m := Multi{a, b}

	m.RecordDecision(context.Background(), "x", true, 0)
	m.RecordFallback(context.Background(), "x", false)

	assert.Equal(t, int64(2), a.GetSnapshot().TotalRequests)
	assert.Equal(t, int64(2), b.GetSnapshot().TotalRequests)
}
