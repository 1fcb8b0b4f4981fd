// Package tracing initializes OpenTelemetry tracing for the coordinator and
// storage nodes. Grounded on QuantaraX's observability.InitTracing, with
// the stdout exporter in place of the Jaeger exporter so the cluster has
// no external collector dependency (see DESIGN.md).
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Init wires a TracerProvider for serviceName. Tracing is enabled only when
// TRACING_ENABLED=1 is set; otherwise it returns a no-op shutdown func and
// traces are dropped by the global no-op tracer.
//
// Config via env: TRACING_ENABLED.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	if os.Getenv("TRACING_ENABLED") != "1" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer for span creation around UPLOAD_FILE,
// DOWNLOAD_FILE, and re-replication ticks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
