package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the OpenTelemetry recorder.
const MeterName = "github.com/KanavDutta/tollgate"

// OTel records decisions as OpenTelemetry instruments.
type OTel struct {
	decisions metric.Int64Counter
	fallbacks metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewOTel creates the instruments on provider. A nil provider uses the global one.
func NewOTel(provider metric.MeterProvider) (*OTel, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(MeterName)

	decisions, err := meter.Int64Counter("tollgate.decisions",
		metric.WithDescription("Admission decisions by class and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create decisions counter: %w", err)
	}
	fallbacks, err := meter.Int64Counter("tollgate.fallbacks",
		metric.WithDescription("Decisions made by the failure policy"))
	if err != nil {
		return nil, fmt.Errorf("create fallbacks counter: %w", err)
	}
	latency, err := meter.Float64Histogram("tollgate.check.duration",
		metric.WithDescription("Store round trip of an admission check"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return &OTel{decisions: decisions, fallbacks: fallbacks, latency: latency}, nil
}

// RecordDecision implements the limiter's Recorder.
func (o *OTel) RecordDecision(ctx context.Context, class string, allowed bool, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("class", class),
		attribute.Bool("allowed", allowed),
	)
	o.decisions.Add(ctx, 1, attrs)
	o.latency.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(attribute.String("class", class)))
}

// RecordFallback implements the limiter's Recorder.
func (o *OTel) RecordFallback(ctx context.Context, class string, allowed bool) {
	o.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.Bool("allowed", allowed),
	))
}

// Recorder is the set of methods the limiter reports through.
type Recorder interface {
	RecordDecision(ctx context.Context, class string, allowed bool, latency time.Duration)
	RecordFallback(ctx context.Context, class string, allowed bool)
}

// Multi fans out to several recorders.
type Multi []Recorder

func (m Multi) RecordDecision(ctx context.Context, class string, allowed bool, latency time.Duration) {
	for _, r := range m {
		r.RecordDecision(ctx, class, allowed, latency)
	}
}

func (m Multi) RecordFallback(ctx context.Context, class string, allowed bool) {
	for _, r := range m {
		r.RecordFallback(ctx, class, allowed)
	}
}
