package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	synctracing "github.com/gxo-labs/statesync/pkg/statesync/v1/tracing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	defaultGRPCEndpoint = "localhost:4317"
	defaultHTTPEndpoint = "localhost:4318"
	defaultServiceName  = "statesync"
	defaultTimeout      = 10 * time.Second
)

// OtelTracerProvider implements TracerProvider on the OpenTelemetry SDK, or on
// the no-op provider when tracing is disabled or not configured.
type OtelTracerProvider struct {
	provider    trace.TracerProvider
	sdkProvider *sdktrace.TracerProvider
	log         synclog.Logger
}

// NewNoOpProvider creates a provider whose spans are discarded.
func NewNoOpProvider() *OtelTracerProvider {
	return &OtelTracerProvider{provider: noop.NewTracerProvider()}
}

// NewProviderFromEnv builds a provider from the standard OTEL_* variables.
// Tracing stays off unless OTEL_EXPORTER_OTLP_ENDPOINT or
// OTEL_EXPORTER_OTLP_PROTOCOL is set, and OTEL_SDK_DISABLED=true always
// disables it. Exporter failures fall back to the no-op provider with a
// warning. The global OpenTelemetry provider is left untouched.
func NewProviderFromEnv(ctx context.Context, log synclog.Logger) *OtelTracerProvider {
	if log == nil {
		panic("tracing.NewProviderFromEnv requires a non-nil logger")
	}
	log = log.With("component", "Tracing")

	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		log.Debugf("OpenTelemetry tracing disabled via OTEL_SDK_DISABLED")
		return NewNoOpProvider()
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "" {
		log.Debugf("No OTLP endpoint configured, tracing disabled")
		return NewNoOpProvider()
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName())),
		resource.WithProcess(), resource.WithOS(), resource.WithHost(),
	)
	if err != nil {
		log.Warnf("Failed to detect OpenTelemetry resource, using default: %v", err)
		res = resource.Default()
	}

	exporter, err := newExporter(ctx, log)
	if err != nil {
		log.Warnf("Failed to create OTLP exporter, tracing disabled: %v", err)
		return NewNoOpProvider()
	}

	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	log.Infof("OpenTelemetry tracing enabled for service '%s'", serviceName())
	return &OtelTracerProvider{provider: sdkTP, sdkProvider: sdkTP, log: log}
}

// newExporter creates the OTLP exporter selected by OTEL_EXPORTER_OTLP_PROTOCOL.
func newExporter(ctx context.Context, log synclog.Logger) (sdktrace.SpanExporter, error) {
	protocol := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	if protocol == "" {
		protocol = "grpc"
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	headers := parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	timeout := parseTimeout(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"), defaultTimeout)
	gzipped := strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_COMPRESSION"), "gzip")
	insecure := isTrue(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), os.Getenv("OTEL_EXPORTER_OTLP_TRACES_INSECURE"))

	switch protocol {
	case "grpc":
		if endpoint == "" {
			endpoint = defaultGRPCEndpoint
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithHeaders(headers),
			otlptracegrpc.WithTimeout(timeout),
		}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
		if gzipped {
			opts = append(opts, otlptracegrpc.WithCompressor(gzip.Name))
		}
		log.Debugf("Configuring OTLP gRPC exporter (endpoint: %s, insecure: %t, gzip: %t)", endpoint, insecure, gzipped)
		return otlptracegrpc.New(ctx, opts...)

	case "http", "http/protobuf":
		if endpoint == "" {
			endpoint = defaultHTTPEndpoint
		}
		path := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if path == "" {
			path = "/v1/traces"
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithURLPath(path),
			otlptracehttp.WithHeaders(headers),
			otlptracehttp.WithTimeout(timeout),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if gzipped {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		log.Debugf("Configuring OTLP HTTP exporter (endpoint: %s%s, insecure: %t, gzip: %t)", endpoint, path, insecure, gzipped)
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
	}
}

// GetTracer returns a named tracer from the configured provider.
func (p *OtelTracerProvider) GetTracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.provider == nil {
		return noop.NewTracerProvider().Tracer(name, opts...)
	}
	return p.provider.Tracer(name, opts...)
}

// Shutdown flushes pending spans. It is a no-op for the no-op provider.
func (p *OtelTracerProvider) Shutdown(ctx context.Context) error {
	if p.sdkProvider == nil {
		return nil
	}
	if err := p.sdkProvider.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Errorf("Error shutting down tracer provider: %v", err)
		return err
	}
	return nil
}

// IsNoOp reports whether spans are discarded.
func (p *OtelTracerProvider) IsNoOp() bool {
	return p.sdkProvider == nil
}

func serviceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

// parseHeaders reads the comma separated key=value list used by OTLP variables.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

// parseTimeout accepts integer milliseconds or a Go duration.
func parseTimeout(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	return fallback
}

func isTrue(flags ...string) bool {
	for _, flag := range flags {
		if strings.EqualFold(strings.TrimSpace(flag), "true") {
			return true
		}
	}
	return false
}

var _ synctracing.TracerProvider = (*OtelTracerProvider)(nil)
