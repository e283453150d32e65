// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"io"
	"os"

	"QFMIngest/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "qfm-ingest"

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

func nop(context.Context) error { return nil }

// Init installs an SDK tracer provider that writes spans to stdout when
// enabled. Otherwise the global no-op provider stays in place.
func Init(ctx context.Context, enabled bool) (Shutdown, error) {
	if !enabled {
		return nop, nil
	}
	return InitWriter(ctx, os.Stdout)
}

// InitWriter is Init with the span output redirected to w.
func InitWriter(ctx context.Context, w io.Writer) (Shutdown, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		logger.Warn("otel resource init failed (continuing)", logger.ErrorField(err))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("otel tracing initialized", logger.String("exporter", "stdout"))
	return tp.Shutdown, nil
}
