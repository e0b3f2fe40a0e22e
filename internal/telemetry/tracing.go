// Package telemetry installs the OpenTelemetry tracer provider and the W3C
// propagators used when crawl events leave the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config controls tracing.
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// ProjectID enables export to Google Cloud Trace. Spans are only
	// recorded in-process when it is empty.
	ProjectID string `mapstructure:"project_id"`
}

// Option adjusts the tracer provider built by Init.
type Option func(*[]sdktrace.TracerProviderOption)

// WithSpanProcessor registers an extra span processor.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(opts *[]sdktrace.TracerProviderOption) {
		*opts = append(*opts, sdktrace.WithSpanProcessor(sp))
	}
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Init sets the global propagator and, when tracing is enabled, the global
// tracer provider. The propagator is always installed so inbound trace
// headers keep flowing to publishers.
func Init(ctx context.Context, cfg Config, opts ...Option) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("telemetry service name is required")
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("telemetry sample ratio %v out of range [0,1]", cfg.SampleRatio)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create cloud trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, opt := range opts {
		opt(&tpOpts)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
