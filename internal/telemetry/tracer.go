// Package telemetry wires the driver phase machine's transitions and the
// DAG scheduler's stage/chunk execution into OpenTelemetry spans. Grounded
// on SPEC_FULL.md's observability section ("ambient, carried despite
// spec.md naming no metrics component"): the teacher repo instruments its
// own product surface directly rather than through a shared tracing
// package, so this package's shape (a package-level tracer plus a
// constructor for the exporter/provider pair) is new, built against the
// otel SDK the teacher's go.mod already names.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName is the scope of spans started through Tracer.
// internal/phase and internal/dag start their spans under their own
// package-path scopes.
const instrumentationName = "github.com/deskpilot/orchestrator"

// Tracer returns the module-wide tracer. Before NewTracerProvider installs
// a real SDK provider, every span it produces is the documented otel
// no-op, so call sites never need to guard on whether tracing is
// configured.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// NewTracerProvider builds an OTLP/gRPC span exporter against endpoint and
// installs a batching TracerProvider as the process-wide default. Callers
// own the returned provider's lifetime and must call Shutdown on exit.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
