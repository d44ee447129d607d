package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider defines the interface for accessing the tracer used to span
// routed commands. It lets callers plug statesync into an existing
// OpenTelemetry setup.
type TracerProvider interface {
	// GetTracer returns a Tracer instance with the specified name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans and releases exporter resources. It is a
	// no-op for providers that never export.
	Shutdown(ctx context.Context) error
}
