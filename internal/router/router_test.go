package router_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/statesync/internal/logger"
	intMetrics "github.com/gxo-labs/statesync/internal/metrics"
	"github.com/gxo-labs/statesync/internal/router"
	"github.com/gxo-labs/statesync/internal/transport"
	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
	synctransport "github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

type recordingSink struct {
	mu    sync.Mutex
	items []events.Diagnostic
}

func (s *recordingSink) Report(d events.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, d)
}

func (s *recordingSink) all() []events.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Diagnostic(nil), s.items...)
}

// harness is a router wired to an observer port that records envelopes.
type harness struct {
	router  *router.Router
	client  synctransport.ClientPort
	sink    *recordingSink
	metrics *intMetrics.PrometheusRegistryProvider

	mu        sync.Mutex
	envelopes []protocol.Envelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	worker, client := transport.Pipe(transport.PipeOptions{Name: t.Name(), Log: logger.NewNopLogger()})
	h := &harness{client: client, sink: &recordingSink{}, metrics: intMetrics.NewPrometheusRegistryProvider()}

	r, err := router.New(worker, logger.NewNopLogger(),
		v1.WithDiagnosticSink(h.sink),
		v1.WithMetricsRegistryProvider(h.metrics),
	)
	require.NoError(t, err)
	h.router = r
	t.Cleanup(func() { _ = r.Close() })

	client.OnMessage(func(env protocol.Envelope) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.envelopes = append(h.envelopes, env)
	})
	return h
}

func (h *harness) received() []protocol.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Envelope(nil), h.envelopes...)
}

// waitFor blocks until n envelopes arrived and returns them.
func (h *harness) waitFor(t *testing.T, n int) []protocol.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.received()) >= n }, time.Second, 5*time.Millisecond)
	return h.received()
}

func (h *harness) send(t *testing.T, cmd protocol.Command) {
	t.Helper()
	require.NoError(t, h.client.PostMessage(cmd))
}

func counterStore() store.Config {
	return store.Config{
		Type:  "counter",
		State: 0,
		Mutations: map[string]store.Mutation{
			"inc":   func(state, payload interface{}) interface{} { return state.(int) + payload.(int) },
			"reset": func(state, payload interface{}) interface{} { return 0 },
		},
		Actions: map[string]store.Action{
			"bump":  func(commit store.Commit, payload interface{}) error { return commit("inc", payload) },
			"reset": func(commit store.Commit, payload interface{}) error { return commit("reset", nil) },
		},
		Getters: map[string]store.Getter{
			"double": func(state, _ interface{}, _ map[string]store.Getter) interface{} { return state.(int) * 2 },
		},
	}
}

func TestRouter_StartPostsOneManifest(t *testing.T) {
	h := newHarness(t)
	noop := func(map[string]store.Store, interface{}) error { return nil }

	require.NoError(t, h.router.RegisterStore(store.Config{Type: "a", State: 1}))
	require.NoError(t, h.router.RegisterStore(store.Config{Type: "b", State: 2, Getters: map[string]store.Getter{
		"len": func(interface{}, interface{}, map[string]store.Getter) interface{} { return 0 },
	}}))
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{Type: "m", Handler: noop}))
	require.NoError(t, h.router.Start())

	got := h.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, h.received(), 1, "exactly one INIT is posted")

	assert.Equal(t, protocol.TypeInit, got[0].Type)
	manifest := got[0].Payload.(protocol.Manifest)
	require.Len(t, manifest.Stores, 2)
	assert.Equal(t, "a", manifest.Stores[0].Type)
	assert.Equal(t, []string{"default"}, manifest.Stores[0].Getters)
	assert.Equal(t, "b", manifest.Stores[1].Type)
	assert.Equal(t, []string{"default", "len"}, manifest.Stores[1].Getters)
	assert.Equal(t, []protocol.ManagerInfo{{Type: "m"}}, manifest.Managers)
	assert.Equal(t, []string{"default", "len"}, manifest.Getters)
}

func TestRouter_StartTwice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Start())
	var cfgErr *syncerrors.ConfigError
	assert.ErrorAs(t, h.router.Start(), &cfgErr)
}

func TestRouter_DispatchAndGetState(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(counterStore()))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "counter", Name: "bump", Payload: 5})
	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "counter", Name: "default"})
	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "counter", Name: "double"})

	got := h.waitFor(t, 4)
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 5, Mutation: "inc"}, got[1])
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 5, Getter: "default"}, got[2])
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 10, Getter: "double"}, got[3])

	assert.Eventually(t, func() bool { return testutil.ToFloat64(router.CommandsCounter(h.router).WithLabelValues("dispatch", "ok")) == 1.0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(router.CommandsCounter(h.router).WithLabelValues("getState", "ok")) == 2.0 }, time.Second, 5*time.Millisecond)
}

func TestRouter_DuplicateRegistrationIsIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(store.Config{Type: "s", State: "first"}))
	require.NoError(t, h.router.RegisterStore(store.Config{
		Type:  "s",
		State: "second",
		Mutations: map[string]store.Mutation{
			"shout": func(state, _ interface{}) interface{} { return strings.ToUpper(state.(string)) },
		},
		Actions: map[string]store.Action{
			"shout": func(commit store.Commit, payload interface{}) error { return commit("shout", payload) },
		},
		Getters: map[string]store.Getter{
			"length": func(state, _ interface{}, _ map[string]store.Getter) interface{} { return len(state.(string)) },
		},
	}))
	noop := func(map[string]store.Store, interface{}) error { return nil }
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{Type: "m", Handler: noop}))
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{Type: "m", Handler: noop}))

	manifest := h.router.Manifest()
	require.Len(t, manifest.Stores, 1)
	assert.Len(t, manifest.Managers, 1)
	assert.Empty(t, manifest.Stores[0].Actions)
	assert.Equal(t, []string{"default"}, manifest.Stores[0].Getters)

	require.NoError(t, h.router.Start())
	h.send(t, protocol.Command{Kind: protocol.KindGetAllState})
	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "s", Name: "shout"})
	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "s", Name: "length"})
	got := h.waitFor(t, 4)
	assert.Equal(t, "first", got[1].Payload)

	require.NotNil(t, got[2].Error)
	var actionErr *syncerrors.UnknownActionError
	require.ErrorAs(t, got[2].Error.Err(), &actionErr)
	assert.Equal(t, "shout", actionErr.Action)

	require.NotNil(t, got[3].Error)
	var getterErr *syncerrors.UnknownGetterError
	require.ErrorAs(t, got[3].Error.Err(), &getterErr)
	assert.Equal(t, "length", getterErr.Getter)
}

func TestRouter_ReservedTypesAreRejected(t *testing.T) {
	noop := func(map[string]store.Store, interface{}) error { return nil }
	for _, name := range []string{
		protocol.TypeInit,
		protocol.TypeError,
		protocol.TypeCreateClientStore,
		protocol.TypeCreateClientManager,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			var cfgErr *syncerrors.ConfigError
			assert.ErrorAs(t, h.router.RegisterStore(store.Config{Type: name, State: 0}), &cfgErr)
			assert.ErrorAs(t, h.router.RegisterManager(store.ManagerConfig{Type: name, Handler: noop}), &cfgErr)

			reported := h.sink.all()
			require.Len(t, reported, 2)
			for _, d := range reported {
				assert.Equal(t, events.ConfigFailure, d.Kind)
			}

			manifest := h.router.Manifest()
			assert.Empty(t, manifest.Stores)
			assert.Empty(t, manifest.Managers)

			require.NoError(t, h.router.Start())
			h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: name})
			got := h.waitFor(t, 2)
			require.NotNil(t, got[1].Error)
			assert.Equal(t, protocol.FaultUnroutable, got[1].Error.Kind)
		})
	}
}

func TestRouter_InvalidRegistrationIsReported(t *testing.T) {
	h := newHarness(t)

	var cfgErr *syncerrors.ConfigError
	assert.ErrorAs(t, h.router.RegisterStore(store.Config{State: 1}), &cfgErr)
	assert.ErrorAs(t, h.router.RegisterManager(store.ManagerConfig{Type: "m"}), &cfgErr)
	assert.ErrorAs(t, h.router.RegisterManager(store.ManagerConfig{Handler: func(map[string]store.Store, interface{}) error { return nil }}), &cfgErr)

	reported := h.sink.all()
	require.Len(t, reported, 3)
	for _, d := range reported {
		assert.Equal(t, events.ConfigFailure, d.Kind)
	}

	require.NoError(t, h.router.RegisterStore(counterStore()))
	assert.Len(t, h.router.Manifest().Stores, 1, "router keeps working after a bad registration")
}

func TestRouter_UnroutableCommandIsReportedAndDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(counterStore()))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "ghost", Name: "bump", Payload: 1})
	h.send(t, protocol.Command{Kind: protocol.KindOperate, Target: "nobody"})
	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "counter", Name: "bump", Payload: 2})

	got := h.waitFor(t, 4)
	assert.Equal(t, protocol.TypeError, got[1].Type)
	require.NotNil(t, got[1].Error)
	assert.Equal(t, protocol.FaultUnroutable, got[1].Error.Kind)
	assert.Equal(t, "ghost", got[1].Error.Store)
	var unroutable *syncerrors.UnroutableMessageError
	assert.ErrorAs(t, got[1].Error.Err(), &unroutable)

	assert.Equal(t, protocol.TypeError, got[2].Type)
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 2, Mutation: "inc"}, got[3], "loop survives")

	reported := h.sink.all()
	require.Len(t, reported, 2)
	assert.Equal(t, events.UnroutableCommand, reported[0].Kind)
	assert.Equal(t, "ghost", reported[0].Store)
}

func TestRouter_UnknownGetterAnswersWithFault(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(counterStore()))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "counter", Name: "triple"})
	got := h.waitFor(t, 2)

	require.NotNil(t, got[1].Error)
	err := got[1].Error.Err()
	var getterErr *syncerrors.UnknownGetterError
	require.ErrorAs(t, err, &getterErr)
	assert.Equal(t, "counter", getterErr.Store)
	assert.Equal(t, "triple", getterErr.Getter)
	assert.Equal(t, events.StoreFailure, h.sink.all()[0].Kind)
}

func TestRouter_UnknownKindIsIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(counterStore()))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: "teleport", Target: "counter"})
	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "counter"})

	got := h.waitFor(t, 2)
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 0, Getter: "default"}, got[1])
	assert.Empty(t, h.sink.all())
	assert.Eventually(t, func() bool { return testutil.ToFloat64(router.CommandsCounter(h.router).WithLabelValues("unknown", "ignored")) == 1.0 }, time.Second, 5*time.Millisecond)
}

func TestRouter_GetAllStateFollowsRegistrationOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(store.Config{Type: "z", State: "last-letter"}))
	require.NoError(t, h.router.RegisterStore(store.Config{Type: "a", State: []interface{}{"x"}}))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindGetAllState})
	got := h.waitFor(t, 3)
	assert.Equal(t, protocol.Envelope{Type: "z", Payload: "last-letter", Getter: "default"}, got[1])
	assert.Equal(t, protocol.Envelope{Type: "a", Payload: []interface{}{"x"}, Getter: "default"}, got[2])
}

func TestRouter_OperateRunsManager(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.RegisterStore(counterStore()))
	var seen []string
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{
		Type: "reset",
		Handler: func(stores map[string]store.Store, payload interface{}) error {
			for name := range stores {
				seen = append(seen, name)
			}
			return stores["counter"].Dispatch("reset", payload)
		},
	}))
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{
		Type:    "explode",
		Handler: func(map[string]store.Store, interface{}) error { panic("manager down") },
	}))
	require.NoError(t, h.router.RegisterManager(store.ManagerConfig{
		Type:    "refuse",
		Handler: func(map[string]store.Store, interface{}) error { return errors.New("no") },
	}))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "counter", Name: "bump", Payload: 3})
	h.send(t, protocol.Command{Kind: protocol.KindOperate, Target: "reset"})
	h.send(t, protocol.Command{Kind: protocol.KindOperate, Target: "explode"})
	h.send(t, protocol.Command{Kind: protocol.KindOperate, Target: "refuse"})

	got := h.waitFor(t, 5)
	assert.Equal(t, protocol.Envelope{Type: "counter", Payload: 0, Mutation: "reset"}, got[2])
	assert.Equal(t, []string{"counter"}, seen)
	assert.Equal(t, protocol.FaultHandler, got[3].Error.Kind)
	assert.Equal(t, protocol.FaultHandler, got[4].Error.Kind)

	var handlerErr *syncerrors.HandlerError
	reported := h.sink.all()
	require.Len(t, reported, 2)
	assert.ErrorAs(t, reported[0].Err, &handlerErr)
	assert.Equal(t, events.HandlerFailure, reported[1].Kind)
}

func TestRouter_RegistrationAfterStartIsRoutable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Start())
	require.NoError(t, h.router.RegisterStore(store.Config{Type: "late", State: "here"}))

	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "late"})
	got := h.waitFor(t, 2)
	assert.Empty(t, got[0].Payload.(protocol.Manifest).Stores, "INIT is not amended")
	assert.Equal(t, protocol.Envelope{Type: "late", Payload: "here", Getter: "default"}, got[1])
}

func TestRouter_CommitsFromAsyncActions(t *testing.T) {
	h := newHarness(t)
	cfg := counterStore()
	cfg.Actions["later"] = func(commit store.Commit, payload interface{}) error {
		go func() { _ = commit("inc", payload, store.WithoutState()) }()
		return nil
	}
	require.NoError(t, h.router.RegisterStore(cfg))
	require.NoError(t, h.router.Start())

	h.send(t, protocol.Command{Kind: protocol.KindDispatch, Target: "counter", Name: "later", Payload: 7})
	got := h.waitFor(t, 2)
	assert.Equal(t, protocol.Envelope{Type: "counter", Mutation: "inc"}, got[1])

	h.send(t, protocol.Command{Kind: protocol.KindGetState, Target: "counter"})
	got = h.waitFor(t, 3)
	assert.Equal(t, 7, got[2].Payload)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(router.CommitsCounter(h.router).WithLabelValues("counter", "inc")) == 1.0 }, time.Second, 5*time.Millisecond)
}

func TestRouter_NewValidatesArguments(t *testing.T) {
	worker, _ := transport.Pipe(transport.PipeOptions{Log: logger.NewNopLogger()})
	defer worker.Close()

	_, err := router.New(nil, logger.NewNopLogger())
	assert.Error(t, err)
	_, err = router.New(worker, nil)
	assert.Error(t, err)
	_, err = router.New(worker, logger.NewNopLogger(), v1.WithDiagnosticSink(nil))
	var cfgErr *syncerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

// syncBuffer lets the delivery goroutine log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRouter_UnknownNameLogsSuggestion(t *testing.T) {
	out := &syncBuffer{}
	worker, client := transport.Pipe(transport.PipeOptions{Name: t.Name(), Log: logger.NewNopLogger()})
	r, err := router.New(worker, logger.NewLogger("warn", "json", out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	client.OnMessage(func(protocol.Envelope) {})

	require.NoError(t, r.RegisterStore(counterStore()))
	require.NoError(t, r.Start())
	require.NoError(t, client.PostMessage(protocol.Command{Kind: protocol.KindGetState, Target: "counter", Name: "doubel"}))
	require.NoError(t, client.PostMessage(protocol.Command{Kind: protocol.KindDispatch, Target: "counter", Name: "bmup", Payload: 1}))

	require.Eventually(t, func() bool {
		logs := out.String()
		return strings.Contains(logs, `"did_you_mean":"double"`) && strings.Contains(logs, `"did_you_mean":"bump"`)
	}, time.Second, 5*time.Millisecond)
}
