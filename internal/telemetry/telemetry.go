// Package telemetry configures OpenTelemetry tracing for the importer.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls tracing.
type Config struct {
	ServiceName    string
	TracingEnabled bool
	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64
	// ProjectID, when set, exports spans to Google Cloud Trace.
	ProjectID string
}

// Option customizes Init.
type Option func(*options)

type options struct {
	exporters []sdktrace.SpanExporter
}

// WithExporter batches finished spans to exp.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporters = append(o.exporters, exp)
	}
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(ctx context.Context) error

// Init installs the global tracer provider and W3C propagators. The
// propagators are installed even when tracing is disabled so trace context
// still reaches published messages.
func Init(ctx context.Context, cfg Config, opts ...Option) (Shutdown, error) {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.ProjectID != "" {
		exp, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create cloud trace exporter: %w", err)
		}
		o.exporters = append(o.exporters, exp)
	}
	for _, exp := range o.exporters {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}
