package v1

import (
	"context"
	"time"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/metrics"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/tracing"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

// RouterV1 defines the public interface of the worker-side router.
type RouterV1 interface {
	// RegisterStore builds and records a store. A duplicate type is ignored.
	RegisterStore(cfg store.Config) error
	// RegisterManager records a manager handler. A duplicate type is ignored.
	RegisterManager(cfg store.ManagerConfig) error
	// Start installs the inbound handler and posts the INIT manifest.
	Start() error
	// Manifest returns the manifest accumulated so far.
	Manifest() protocol.Manifest
	// Close closes the worker port.
	Close() error

	// Setter methods for configuring router components programmatically.
	SetDiagnosticSink(sink events.DiagnosticSink) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
}

// RouterOption is a function type used to configure a router at creation.
type RouterOption func(RouterV1) error

// ClientV1 defines the public interface of the observer-side proxy layer.
type ClientV1 interface {
	// Install spawns the worker at path and attaches to its port.
	Install(spawner transport.Spawner, path string) error
	// Attach connects the client to an already created port.
	Attach(port transport.ClientPort) error

	Dispatch(storeType, action string, payload interface{}) error
	Operate(managerType string, payload interface{}) error
	GetState(ctx context.Context, storeType, getter string, payload interface{}) (interface{}, error)
	GetAllState() error

	// Subscribe registers fn for every envelope of eventType. Store envelopes
	// trigger fn with (payload, mutation, getter).
	Subscribe(eventType string, fn events.Handler) *events.Subscription
	Unsubscribe(eventType string, sub *events.Subscription)

	// Close closes the port to the worker.
	Close() error

	SetEventBus(bus events.Bus) error
	SetDiagnosticSink(sink events.DiagnosticSink) error
	SetSpawnRetry(policy RetryPolicy) error
}

// ClientOption is a function type used to configure a client at creation.
type ClientOption func(ClientV1) error

// RetryPolicy controls how Install retries a failing spawn.
type RetryPolicy struct {
	Attempts      int           `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	Delay         time.Duration `yaml:"-" json:"-"`
	MaxDelay      time.Duration `yaml:"-" json:"-"`
	BackoffFactor float64       `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitempty"`
}

// WithDiagnosticSink is a router option to provide a custom diagnostic sink.
func WithDiagnosticSink(sink events.DiagnosticSink) RouterOption {
	return func(r RouterV1) error {
		if sink == nil {
			return syncerrors.NewConfigError("diagnostic sink cannot be nil", nil)
		}
		return r.SetDiagnosticSink(sink)
	}
}

// WithMetricsRegistryProvider is a router option to provide a custom metrics provider.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) RouterOption {
	return func(r RouterV1) error {
		if provider == nil {
			return syncerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return r.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider is a router option to provide a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) RouterOption {
	return func(r RouterV1) error {
		if provider == nil {
			return syncerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return r.SetTracerProvider(provider)
	}
}

// WithEventBus is a client option to provide a custom event bus.
func WithEventBus(bus events.Bus) ClientOption {
	return func(c ClientV1) error {
		if bus == nil {
			return syncerrors.NewConfigError("event bus cannot be nil", nil)
		}
		return c.SetEventBus(bus)
	}
}

// WithClientDiagnosticSink is a client option to provide a custom diagnostic sink.
func WithClientDiagnosticSink(sink events.DiagnosticSink) ClientOption {
	return func(c ClientV1) error {
		if sink == nil {
			return syncerrors.NewConfigError("diagnostic sink cannot be nil", nil)
		}
		return c.SetDiagnosticSink(sink)
	}
}

// WithSpawnRetry is a client option to retry a failing spawn during Install.
func WithSpawnRetry(policy RetryPolicy) ClientOption {
	return func(c ClientV1) error {
		if policy.Attempts <= 0 {
			policy.Attempts = 1
		}
		return c.SetSpawnRetry(policy)
	}
}
