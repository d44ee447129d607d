package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/statesync/internal/client"
	intEvents "github.com/gxo-labs/statesync/internal/events"
	"github.com/gxo-labs/statesync/internal/logger"
	"github.com/gxo-labs/statesync/internal/router"
	"github.com/gxo-labs/statesync/internal/transport"
	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
	synctransport "github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

const workerPath = "test/counter"

type recordingSink struct {
	mu    sync.Mutex
	items []events.Diagnostic
}

func (s *recordingSink) Report(d events.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, d)
}

func (s *recordingSink) kinds() []events.DiagnosticKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.DiagnosticKind
	for _, d := range s.items {
		out = append(out, d.Kind)
	}
	return out
}

// toInt normalises numbers that crossed a JSON codec.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return -1
	}
}

func counterWorker(port synctransport.WorkerPort) {
	r, err := router.New(port, logger.NewNopLogger())
	if err != nil {
		panic(err)
	}
	_ = r.RegisterStore(store.Config{
		Type:  "counter",
		State: 0,
		Mutations: map[string]store.Mutation{
			"inc":   func(state, payload interface{}) interface{} { return toInt(state) + toInt(payload) },
			"reset": func(interface{}, interface{}) interface{} { return 0 },
		},
		Actions: map[string]store.Action{
			"bump":  func(commit store.Commit, payload interface{}) error { return commit("inc", payload) },
			"reset": func(commit store.Commit, _ interface{}) error { return commit("reset", nil) },
		},
		Getters: map[string]store.Getter{
			"double": func(state, _ interface{}, _ map[string]store.Getter) interface{} { return toInt(state) * 2 },
		},
	})
	_ = r.RegisterStore(store.Config{Type: "todos", State: []interface{}{}})
	_ = r.RegisterManager(store.ManagerConfig{
		Type: "reset",
		Handler: func(stores map[string]store.Store, _ interface{}) error {
			return stores["counter"].Dispatch("reset", nil)
		},
	})
	_ = r.Start()
}

type fixture struct {
	client *client.Client
	bus    *intEvents.Emitter
	sink   *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNopLogger()
	sink := &recordingSink{}
	bus := intEvents.NewEmitter(sink, log)

	c, err := client.New(log, v1.WithEventBus(bus), v1.WithClientDiagnosticSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{client: c, bus: bus, sink: sink}
}

func (f *fixture) install(t *testing.T, codec transport.Codec) {
	t.Helper()
	spawner := transport.NewLocalSpawner(transport.PipeOptions{Codec: codec, Log: logger.NewNopLogger()})
	require.NoError(t, spawner.Register(workerPath, counterWorker))
	require.NoError(t, f.client.Install(spawner, workerPath))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.client.Ready(ctx))
}

func TestClient_InitBuildsStoreProxies(t *testing.T) {
	f := newFixture(t)

	var created map[string]*client.StoreProxy
	var managers []protocol.ManagerInfo
	got := make(chan struct{}, 2)
	f.client.Subscribe(protocol.TypeCreateClientStore, func(args ...interface{}) {
		created = args[0].(map[string]*client.StoreProxy)
		got <- struct{}{}
	})
	f.client.Subscribe(protocol.TypeCreateClientManager, func(args ...interface{}) {
		managers = args[0].([]protocol.ManagerInfo)
		got <- struct{}{}
	})
	f.install(t, transport.CodecClone)
	<-got
	<-got

	require.Len(t, created, 2)
	counter := created["counter"]
	require.NotNil(t, counter)
	assert.Equal(t, "counter", counter.Type())
	assert.Equal(t, []string{"bump", "reset"}, counter.Actions())
	assert.Equal(t, []string{"default", "double"}, counter.Getters())
	assert.Equal(t, []protocol.ManagerInfo{{Type: "reset"}}, managers)
	assert.Equal(t, managers, f.client.Managers())
}

func TestClient_CreateStoreListenerReadsStateAsync(t *testing.T) {
	f := newFixture(t)

	started := make(chan *client.Pending, 1)
	f.client.Subscribe(protocol.TypeCreateClientStore, func(args ...interface{}) {
		stores := args[0].(map[string]*client.StoreProxy)
		started <- stores["counter"].GetStateAsync("double", nil)
	})
	f.install(t, transport.CodecClone)

	pending := <-started
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	value, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, value)
}

func TestClient_DispatchSubscribeAndGetState(t *testing.T) {
	for _, codec := range []transport.Codec{transport.CodecClone, transport.CodecJSON} {
		t.Run(string(codec), func(t *testing.T) {
			f := newFixture(t)
			f.install(t, codec)

			counter, ok := f.client.Store("counter")
			require.True(t, ok)

			type change struct {
				payload  int
				mutation string
				getter   string
			}
			changes := make(chan change, 4)
			sub := counter.Subscribe(func(payload interface{}, mutation, getter string) {
				changes <- change{toInt(payload), mutation, getter}
			})

			require.NoError(t, counter.Dispatch("bump", 5))
			assert.Equal(t, change{5, "inc", ""}, <-changes)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			value, err := counter.GetState(ctx, "", nil)
			require.NoError(t, err)
			assert.Equal(t, 5, toInt(value))
			assert.Equal(t, change{5, "", "default"}, <-changes)

			value, err = counter.GetState(ctx, "double", nil)
			require.NoError(t, err)
			assert.Equal(t, 10, toInt(value))
			<-changes

			counter.Unsubscribe(sub)
			assert.Equal(t, 0, f.bus.Count("counter"), "getState leaves no subscriptions behind")
		})
	}
}

func TestClient_UnknownGetterRejects(t *testing.T) {
	f := newFixture(t)
	f.install(t, transport.CodecClone)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.client.GetState(ctx, "counter", "triple", nil)

	var getterErr *syncerrors.UnknownGetterError
	require.ErrorAs(t, err, &getterErr)
	assert.Equal(t, "counter", getterErr.Store)
	assert.Equal(t, "triple", getterErr.Getter)
	assert.Equal(t, 0, f.bus.Count("counter"))
	assert.Equal(t, 0, f.bus.Count(protocol.TypeError))
	assert.Contains(t, f.sink.kinds(), events.RemoteFault)
}

func TestClient_UnroutableGetStateRejects(t *testing.T) {
	f := newFixture(t)
	f.install(t, transport.CodecClone)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.client.GetState(ctx, "ghost", "", nil)
	var unroutable *syncerrors.UnroutableMessageError
	assert.ErrorAs(t, err, &unroutable)
}

func TestClient_TransportFailureRejectsWithoutLeaks(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetState(context.Background(), "counter", "default", nil)
	assert.True(t, syncerrors.IsTransport(err))
	assert.ErrorIs(t, err, client.ErrNotAttached)
	assert.Equal(t, 0, f.bus.Count("counter"))
	assert.Equal(t, 0, f.bus.Count(protocol.TypeError))

	f.install(t, transport.CodecClone)
	_, err = f.client.GetState(context.Background(), "counter", "default", func() {})
	assert.True(t, syncerrors.IsTransport(err), "an uncloneable payload fails the send")
	assert.Equal(t, 0, f.bus.Count("counter"))

	require.NoError(t, f.client.Close())
	err = f.client.Dispatch("counter", "bump", 1)
	assert.True(t, syncerrors.IsTransport(err))
	assert.Contains(t, f.sink.kinds(), events.TransportFailure)
}

func TestClient_CancelledGetStateOnlyUnsubscribes(t *testing.T) {
	f := newFixture(t)

	// A worker that never answers.
	_, clientPort := transport.Pipe(transport.PipeOptions{Log: logger.NewNopLogger()})
	require.NoError(t, f.client.Attach(clientPort))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.client.GetState(ctx, "counter", "default", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.bus.Count("counter"))
	assert.Equal(t, 0, f.bus.Count(protocol.TypeError))

	p := f.client.GetStateAsync("counter", "default", nil)
	_, _, done := p.Result()
	assert.False(t, done)
	p.Cancel()
	_, err, done = p.Result()
	assert.True(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.bus.Count("counter"))
}

func TestClient_OperateAndGetAllState(t *testing.T) {
	f := newFixture(t)
	f.install(t, transport.CodecClone)

	seen := make(chan []interface{}, 8)
	f.client.Subscribe(events.Wildcard, func(args ...interface{}) { seen <- args })

	require.NoError(t, f.client.Dispatch("counter", "bump", 2))
	assert.Equal(t, []interface{}{"counter", 2, "inc", ""}, <-seen)

	require.NoError(t, f.client.Operate("reset", nil))
	assert.Equal(t, []interface{}{"counter", 0, "reset", ""}, <-seen)

	require.NoError(t, f.client.GetAllState())
	assert.Equal(t, []interface{}{"counter", 0, "", "default"}, <-seen)
	assert.Equal(t, []interface{}{"todos", []interface{}{}, "", "default"}, <-seen)
}

func TestClient_AttachTwice(t *testing.T) {
	f := newFixture(t)
	_, port := transport.Pipe(transport.PipeOptions{Log: logger.NewNopLogger()})
	require.NoError(t, f.client.Attach(port))

	var cfgErr *syncerrors.ConfigError
	assert.ErrorAs(t, f.client.Attach(port), &cfgErr)
	assert.ErrorAs(t, f.client.Attach(nil), &cfgErr)
}

// flakySpawner fails a fixed number of times before delegating.
type flakySpawner struct {
	failures int
	calls    int
	next     synctransport.Spawner
}

func (s *flakySpawner) Spawn(path string) (synctransport.ClientPort, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, syncerrors.NewTransportError("spawn", errors.New("not ready"))
	}
	return s.next.Spawn(path)
}

func TestClient_InstallRetriesSpawn(t *testing.T) {
	log := logger.NewNopLogger()
	local := transport.NewLocalSpawner(transport.PipeOptions{Log: log})
	require.NoError(t, local.Register(workerPath, counterWorker))
	spawner := &flakySpawner{failures: 2, next: local}

	c, err := client.New(log, v1.WithSpawnRetry(v1.RetryPolicy{Attempts: 3, Delay: time.Millisecond}))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Install(spawner, workerPath))
	assert.Equal(t, 3, spawner.calls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Ready(ctx))
	_, ok := c.Store("todos")
	assert.True(t, ok)
}

func TestClient_InstallFailureIsReported(t *testing.T) {
	f := newFixture(t)
	spawner := transport.NewLocalSpawner(transport.PipeOptions{Log: logger.NewNopLogger()})

	err := f.client.Install(spawner, "missing")
	assert.True(t, syncerrors.IsTransport(err))
	assert.Equal(t, []events.DiagnosticKind{events.TransportFailure}, f.sink.kinds())

	var cfgErr *syncerrors.ConfigError
	assert.ErrorAs(t, f.client.Install(nil, workerPath), &cfgErr)
}
