// Package telemetry provides distributed tracing via OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// Telemetry holds the tracer and its provider.
type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New initializes tracing when enabled. With tracing disabled the
// returned Telemetry hands out no-op spans.
func New(cfg config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{
		tracer: otel.Tracer(cfg.ServiceName),
	}

	if !cfg.TracingEnabled {
		return t, nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(cfg.JaegerEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(t.provider)
	t.tracer = otel.Tracer(cfg.ServiceName)

	return t, nil
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// StartSpan starts a span on the telemetry tracer.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// Close flushes and shuts down the tracer provider.
func (t *Telemetry) Close() error {
	if t.provider != nil {
		return t.provider.Shutdown(context.Background())
	}
	return nil
}
