package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
)

// tracerName is the instrumentation name used for statesync spans.
const tracerName = "statesync"

// GetTracer returns a tracer from the global OpenTelemetry provider. Prefer
// an injected TracerProvider; this is the fallback for code without one.
func GetTracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// CommandAttributes describes a routed command on a span.
func CommandAttributes(cmd protocol.Command) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("statesync.command.kind", string(cmd.Kind)),
	}
	if cmd.Target != "" {
		attrs = append(attrs, attribute.String("statesync.command.target", cmd.Target))
	}
	if cmd.Name != "" {
		attrs = append(attrs, attribute.String("statesync.command.name", cmd.Name))
	}
	return attrs
}

// RecordError marks span as failed with err. It does nothing when err is nil
// or the span is not recording.
func RecordError(span oteltrace.Span, err error) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
