// Package trace exports one OpenTelemetry span per supervised cycle over
// OTLP. Tracing is opt-in: with no OTLP endpoint configured the tracer is
// nil and every method is a nil-safe no-op, so the loop never carries a
// tracing dependency at runtime.
package trace

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// CycleTracer emits a span per cycle to an OTLP endpoint.
type CycleTracer struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewCycleTracer creates a tracer if OTEL_EXPORTER_OTLP_ENDPOINT is set.
// Returns nil if the endpoint is not configured (disabled).
func NewCycleTracer(ctx context.Context) (*CycleTracer, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil, nil // Disabled
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // For local dev; make configurable
	)
	if err != nil {
		return nil, err
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "devloop"
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &CycleTracer{
		provider: provider,
		tracer:   provider.Tracer("devloop/loop"),
	}, nil
}

// StartCycle begins the span for one cycle. Nil-safe: a nil tracer returns
// the context unchanged and a nil span.
func (t *CycleTracer) StartCycle(ctx context.Context, cycle int) (context.Context, oteltrace.Span) {
	if t == nil {
		return ctx, nil
	}
	return t.tracer.Start(ctx, "cycle",
		oteltrace.WithAttributes(attribute.Int("devloop.cycle", cycle)))
}

// EndCycle finishes a cycle span with its outcome. Nil spans are ignored.
func EndCycle(span oteltrace.Span, outcome string, exitCode int, duration time.Duration) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("devloop.outcome", outcome),
		attribute.Int("devloop.exit_code", exitCode),
		attribute.Int64("devloop.duration_ms", duration.Milliseconds()),
	)
	span.End()
}

// Shutdown flushes and closes the exporter.
func (t *CycleTracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
