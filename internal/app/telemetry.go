package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wishmasterff/animara/internal/config"
)

type telemetryExporter struct {
	provider *sdktrace.TracerProvider
}

func (t *telemetryExporter) Shutdown(ctx context.Context) {
	if err := t.provider.Shutdown(ctx); err != nil {
		slog.Debug("telemetry shutdown", "error", err)
	}
}

// setupTelemetry configures the optional OTLP trace export. Disabled
// config returns a noop tracer; errors never block startup.
func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig) (trace.Tracer, *telemetryExporter, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer("animara"), nil, nil
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop.NewTracerProvider().Tracer("animara"), nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "animara-proxy"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	slog.Info("telemetry enabled", "endpoint", cfg.Endpoint, "service", serviceName)
	return provider.Tracer("animara"), &telemetryExporter{provider: provider}, nil
}
