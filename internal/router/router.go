// Package router implements the worker side of statesync: it owns the
// registered stores and managers, announces them with an INIT manifest and
// routes inbound commands to them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	intEvents "github.com/gxo-labs/statesync/internal/events"
	intMetrics "github.com/gxo-labs/statesync/internal/metrics"
	intStore "github.com/gxo-labs/statesync/internal/store"
	intTracing "github.com/gxo-labs/statesync/internal/tracing"
	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/metrics"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
	synctracing "github.com/gxo-labs/statesync/pkg/statesync/v1/tracing"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

const tracerName = "statesync-router"

// errIgnored marks a command of unknown kind.
var errIgnored = errors.New("command ignored")

// Router is the worker-side message router. There is one Router per worker
// context; it is not a process-wide singleton.
type Router struct {
	id   string
	port transport.WorkerPort
	log  synclog.Logger

	sink            events.DiagnosticSink
	metricsProvider metrics.RegistryProvider
	tracerProvider  synctracing.TracerProvider
	tracer          oteltrace.Tracer
	metrics         *routerMetrics

	stores   *registry[*intStore.Store]
	managers *registry[store.ManagerConfig]

	startMu sync.Mutex
	started bool
}

var _ v1.RouterV1 = (*Router)(nil)

// New creates a router bound to the worker's port. Stores and managers are
// registered next, then Start announces them.
func New(port transport.WorkerPort, log synclog.Logger, opts ...v1.RouterOption) (*Router, error) {
	if log == nil {
		return nil, syncerrors.NewConfigError("logger cannot be nil", nil)
	}
	if port == nil {
		return nil, syncerrors.NewConfigError("worker port cannot be nil", nil)
	}

	id := uuid.NewString()
	r := &Router{
		id:       id,
		port:     port,
		log:      log.With("component", "Router", "router_id", id),
		stores:   newRegistry[*intStore.Store](),
		managers: newRegistry[store.ManagerConfig](),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to apply router option: %v", err), err)
		}
	}

	if r.sink == nil {
		r.log.Debugf("No diagnostic sink provided, using log sink.")
		r.sink = intEvents.NewLogSink(r.log)
	}
	if r.metricsProvider == nil {
		r.log.Debugf("No metrics provider provided, using private Prometheus registry.")
		r.metricsProvider = intMetrics.NewPrometheusRegistryProvider()
	}
	if r.tracerProvider == nil {
		r.tracerProvider = intTracing.NewNoOpProvider()
	}
	r.tracer = r.tracerProvider.GetTracer(tracerName)
	r.metrics = newRouterMetrics(r.metricsProvider.Registry(), r.log)

	return r, nil
}

// ID returns the router's instance identifier.
func (r *Router) ID() string { return r.id }

// RegisterStore builds a store from cfg and makes it routable. The first
// registration of a type wins; later ones are ignored and return nil.
func (r *Router) RegisterStore(cfg store.Config) error {
	if cfg.Type == "" {
		err := syncerrors.NewConfigError("store registration error: type cannot be empty", nil)
		r.reportConfig(err)
		return err
	}
	if protocol.IsReserved(cfg.Type) {
		err := syncerrors.NewConfigError(fmt.Sprintf("store registration error: type '%s' is reserved", cfg.Type), nil)
		r.reportConfig(err)
		return err
	}
	if r.stores.has(cfg.Type) {
		r.log.Debugf("Store '%s' already registered, ignoring duplicate", cfg.Type)
		return nil
	}

	s, err := intStore.New(cfg, r.post, r.log)
	if err != nil {
		r.reportConfig(err)
		return err
	}
	if !r.stores.add(cfg.Type, s) {
		r.log.Debugf("Store '%s' already registered, ignoring duplicate", cfg.Type)
		return nil
	}
	r.log.Debugf("Registered store '%s' (actions: %v, getters: %v)", cfg.Type, s.ActionNames(), s.GetterNames())
	return nil
}

// RegisterManager makes a manager routable under cfg.Type, with the same
// first-wins policy as stores.
func (r *Router) RegisterManager(cfg store.ManagerConfig) error {
	if cfg.Type == "" {
		err := syncerrors.NewConfigError("manager registration error: type cannot be empty", nil)
		r.reportConfig(err)
		return err
	}
	if protocol.IsReserved(cfg.Type) {
		err := syncerrors.NewConfigError(fmt.Sprintf("manager registration error: type '%s' is reserved", cfg.Type), nil)
		r.reportConfig(err)
		return err
	}
	if cfg.Handler == nil {
		err := syncerrors.NewConfigError(fmt.Sprintf("manager registration error for '%s': handler cannot be nil", cfg.Type), nil)
		r.reportConfig(err)
		return err
	}
	if !r.managers.add(cfg.Type, cfg) {
		r.log.Debugf("Manager '%s' already registered, ignoring duplicate", cfg.Type)
		return nil
	}
	r.log.Debugf("Registered manager '%s'", cfg.Type)
	return nil
}

// Manifest describes every store and manager registered so far, in
// registration order.
func (r *Router) Manifest() protocol.Manifest {
	stores := r.stores.list()
	managers := r.managers.list()

	m := protocol.Manifest{
		Stores:   make([]protocol.StoreInfo, 0, len(stores)),
		Managers: make([]protocol.ManagerInfo, 0, len(managers)),
		Getters:  []string{},
	}
	union := make(map[string]struct{})
	for _, s := range stores {
		getters := s.GetterNames()
		m.Stores = append(m.Stores, protocol.StoreInfo{Type: s.Type(), Actions: s.ActionNames(), Getters: getters})
		for _, g := range getters {
			union[g] = struct{}{}
		}
	}
	for _, mgr := range managers {
		m.Managers = append(m.Managers, protocol.ManagerInfo{Type: mgr.Type})
	}
	for g := range union {
		m.Getters = append(m.Getters, g)
	}
	sort.Strings(m.Getters)
	return m
}

// Start installs the inbound command handler and posts one INIT envelope
// carrying the manifest. Stores registered afterwards are routable but not
// announced.
func (r *Router) Start() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return syncerrors.NewConfigError("router already started", nil)
	}
	r.started = true

	r.port.OnMessage(r.handle)
	manifest := r.Manifest()
	if err := r.post(protocol.Envelope{Type: protocol.TypeInit, Payload: manifest}); err != nil {
		r.report(events.TransportFailure, "", "", err)
		return err
	}
	r.log.Infof("Router started with %d stores and %d managers", len(manifest.Stores), len(manifest.Managers))
	return nil
}

// Close closes the worker port.
func (r *Router) Close() error {
	r.log.Debugf("Closing router")
	return r.port.Close()
}

func (r *Router) SetDiagnosticSink(sink events.DiagnosticSink) error {
	if sink == nil {
		return syncerrors.NewConfigError("diagnostic sink cannot be nil", nil)
	}
	r.sink = sink
	return nil
}

func (r *Router) SetMetricsRegistryProvider(provider metrics.RegistryProvider) error {
	if provider == nil {
		return syncerrors.NewConfigError("metrics registry provider cannot be nil", nil)
	}
	r.metricsProvider = provider
	return nil
}

func (r *Router) SetTracerProvider(provider synctracing.TracerProvider) error {
	if provider == nil {
		return syncerrors.NewConfigError("tracer provider cannot be nil", nil)
	}
	r.tracerProvider = provider
	return nil
}

// post sends an envelope to the observers. Stores use it for every result.
func (r *Router) post(env protocol.Envelope) error {
	if err := r.port.PostMessage(env); err != nil {
		return err
	}
	r.metrics.envelopes.WithLabelValues(envelopeLabel(env)).Inc()
	if env.IsMutation() {
		r.metrics.commits.WithLabelValues(env.Type, env.Mutation).Inc()
	}
	return nil
}

// handle serves one inbound command. It never panics and never stops the
// message loop; failures are reported and answered with a fault envelope.
func (r *Router) handle(cmd protocol.Command) {
	start := time.Now()
	kind := kindLabel(cmd.Kind)
	ctx, span := r.tracer.Start(context.Background(), "statesync.route."+kind,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(intTracing.CommandAttributes(cmd)...),
	)
	defer span.End()

	status := statusOK
	err := r.route(cmd)
	switch {
	case errors.Is(err, errIgnored):
		status = statusIgnored
		r.log.Debugf("Ignoring command of unknown kind '%s'", cmd.Kind)
	case err != nil:
		status = statusError
		intTracing.RecordError(span, err)
		r.fail(ctx, cmd, err)
	default:
		span.SetStatus(codes.Ok, "")
	}

	r.metrics.commands.WithLabelValues(kind, status).Inc()
	r.metrics.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// route runs cmd, turning panics in user code into a HandlerError.
func (r *Router) route(cmd protocol.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("Panic while routing '%s' to '%s': %v\n%s", cmd.Kind, cmd.Target, rec, debug.Stack())
			err = syncerrors.NewHandlerError(cmd.Target, cmd.Name, fmt.Errorf("panic: %v", rec))
		}
	}()

	switch cmd.Kind {
	case protocol.KindDispatch:
		s, ok := r.stores.get(cmd.Target)
		if !ok {
			return syncerrors.NewUnroutableMessageError(string(cmd.Kind), cmd.Target)
		}
		return s.Dispatch(cmd.Name, cmd.Payload)

	case protocol.KindGetState:
		s, ok := r.stores.get(cmd.Target)
		if !ok {
			return syncerrors.NewUnroutableMessageError(string(cmd.Kind), cmd.Target)
		}
		return s.GetState(cmd.Name, cmd.Payload)

	case protocol.KindOperate:
		mgr, ok := r.managers.get(cmd.Target)
		if !ok {
			return syncerrors.NewUnroutableMessageError(string(cmd.Kind), cmd.Target)
		}
		if err := mgr.Handler(r.storeTable(), cmd.Payload); err != nil {
			return syncerrors.NewHandlerError(cmd.Target, "", err)
		}
		return nil

	case protocol.KindGetAllState:
		var errs []error
		for _, s := range r.stores.list() {
			if err := s.GetState(protocol.DefaultGetter, nil); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	default:
		return errIgnored
	}
}

// storeTable is the view of the stores handed to managers.
func (r *Router) storeTable() map[string]store.Store {
	list := r.stores.list()
	table := make(map[string]store.Store, len(list))
	for _, s := range list {
		table[s.Type()] = s
	}
	return table
}

// fail reports a command failure and answers it with a fault envelope.
func (r *Router) fail(ctx context.Context, cmd protocol.Command, err error) {
	kind := events.HandlerFailure
	var unroutable *syncerrors.UnroutableMessageError
	switch {
	case errors.As(err, &unroutable):
		kind = events.UnroutableCommand
	case syncerrors.IsTransport(err):
		kind = events.TransportFailure
	case syncerrors.IsUnknownName(err):
		kind = events.StoreFailure
	}
	level := slog.LevelWarn
	if kind == events.HandlerFailure {
		level = slog.LevelError
	}
	attrs := []interface{}{"command", string(cmd.Kind), "target", cmd.Target, "name", cmd.Name, "error", err.Error()}
	if hint := r.hint(err); hint != "" {
		attrs = append(attrs, "did_you_mean", hint)
	}
	r.log.LogCtx(ctx, level, "Command failed", attrs...)
	r.report(kind, cmd.Target, cmd.Name, err)

	fault := protocol.Envelope{Type: protocol.TypeError, Error: protocol.NewFault(cmd, err)}
	if postErr := r.post(fault); postErr != nil {
		r.log.Debugf("Could not post fault for '%s': %v", cmd.Target, postErr)
	}
}

// hint suggests a registered name close to the one an unknown-name error
// carries.
func (r *Router) hint(err error) string {
	var getterErr *syncerrors.UnknownGetterError
	var actionErr *syncerrors.UnknownActionError
	switch {
	case errors.As(err, &getterErr):
		if s, ok := r.stores.get(getterErr.Store); ok {
			return intStore.Suggest(getterErr.Getter, s.GetterNames())
		}
	case errors.As(err, &actionErr):
		if s, ok := r.stores.get(actionErr.Store); ok {
			return intStore.Suggest(actionErr.Action, s.ActionNames())
		}
	}
	return ""
}

func (r *Router) reportConfig(err error) {
	r.log.Errorf("Registration failed: %v", err)
	r.report(events.ConfigFailure, "", "", err)
}

func (r *Router) report(kind events.DiagnosticKind, storeType, name string, err error) {
	r.sink.Report(events.Diagnostic{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Source:    "router",
		Store:     storeType,
		Name:      name,
		Err:       err,
	})
}
