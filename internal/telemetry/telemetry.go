// Package telemetry owns the OpenTelemetry tracer provider lifecycle.
// Store operations create spans through the global provider, so wiring
// stays no-op until a real provider is installed here.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry encapsulates the tracer provider and handles its lifecycle
type Telemetry struct {
	tracerProvider trace.TracerProvider
}

// Option is a function that configures the telemetry setup
type Option func(*telemetryConfig)

// telemetryConfig holds the configuration for creating telemetry
type telemetryConfig struct {
	enabled        bool
	serviceName    string
	serviceVersion string
	processors     []sdktrace.SpanProcessor
}

// WithEnabled turns span recording on
func WithEnabled(enabled bool) Option {
	return func(tc *telemetryConfig) {
		tc.enabled = enabled
	}
}

// WithService sets the service identity attached to spans
func WithService(name, version string) Option {
	return func(tc *telemetryConfig) {
		tc.serviceName = name
		tc.serviceVersion = version
	}
}

// WithSpanProcessor attaches a span processor, typically an exporter
// pipeline or an in-memory collector in tests
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(tc *telemetryConfig) {
		tc.processors = append(tc.processors, sp)
	}
}

// New creates a Telemetry instance and installs its tracer provider as the
// process-global provider. When disabled it installs a no-op provider.
// The caller is responsible for calling Shutdown when the application exits.
func New(_ context.Context, opts ...Option) (*Telemetry, error) {
	cfg := &telemetryConfig{
		serviceName: "fsight-syncd",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.enabled {
		slog.Debug("Telemetry disabled")
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Telemetry{tracerProvider: tp}, nil
	}

	slog.Info("Initializing telemetry",
		"service_name", cfg.serviceName,
		"service_version", cfg.serviceVersion,
	)

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.serviceName),
		semconv.ServiceVersion(cfg.serviceVersion),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, sp := range cfg.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return &Telemetry{tracerProvider: tp}, nil
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Shutdown flushes and stops the tracer provider. Safe to call multiple
// times.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		slog.Debug("Tracer provider shutdown complete")
	}
	return nil
}
