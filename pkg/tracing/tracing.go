// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config holds tracing configuration.
type Config struct {
	// Exporter selects where spans go: "none" or "stdout".
	Exporter string

	// ServiceName is recorded as service.name.
	ServiceName string

	// SampleRatio is the fraction of traces sampled (0..1). 1 samples all.
	SampleRatio float64

	// Output receives stdout spans (default: os.Stdout).
	Output io.Writer
}

// DefaultConfig returns tracing disabled.
func DefaultConfig() Config {
	return Config{
		Exporter:    ExporterNone,
		ServiceName: "render-gate",
		SampleRatio: 1,
	}
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Setup creates a tracer provider for cfg and installs it globally.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil

	case ExporterStdout:
		output := cfg.Output
		if output == nil {
			output = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(output))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
		}

		serviceName := cfg.ServiceName
		if serviceName == "" {
			serviceName = DefaultConfig().ServiceName
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", serviceName),
			)),
			sdktrace.WithSampler(sampler(cfg.SampleRatio)),
			sdktrace.WithSyncer(exporter),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return tp, tp.Shutdown, nil

	default:
		return nil, nil, fmt.Errorf("unknown exporter: %q", cfg.Exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
