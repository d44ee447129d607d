// Package client implements the observer side of statesync: it connects to
// a worker, turns the INIT manifest into store proxies and fans the worker's
// envelopes out on an event bus.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	intEvents "github.com/gxo-labs/statesync/internal/events"
	"github.com/gxo-labs/statesync/internal/retry"
	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

// ErrNotAttached is the cause of the TransportError returned when a command
// is sent before Install or Attach.
var ErrNotAttached = errors.New("client is not attached to a worker")

// Client is the observer-side proxy layer for one worker.
//
// Listeners run on the goroutine that delivers the worker's envelopes. They
// must not block on GetState; use GetStateAsync there instead. This includes
// INIT, CREATE_CLIENT_STORE and CREATE_CLIENT_MANAGER listeners: reading a
// store's initial state from them must start GetStateAsync and wait on
// Pending.Done in another goroutine, since the reply is delivered on the
// goroutine the listener is holding.
type Client struct {
	id  string
	log synclog.Logger

	bus         events.Bus
	sink        events.DiagnosticSink
	spawnRetry  v1.RetryPolicy
	retryHelper *retry.Helper

	mu       sync.RWMutex
	port     transport.ClientPort
	stores   map[string]*StoreProxy
	managers []protocol.ManagerInfo

	ready     chan struct{}
	readyOnce sync.Once
}

var _ v1.ClientV1 = (*Client)(nil)

// New creates a detached client. Call Install or Attach to connect it.
func New(log synclog.Logger, opts ...v1.ClientOption) (*Client, error) {
	if log == nil {
		return nil, syncerrors.NewConfigError("logger cannot be nil", nil)
	}
	id := uuid.NewString()
	c := &Client{
		id:         id,
		log:        log.With("component", "Client", "client_id", id),
		spawnRetry: v1.RetryPolicy{Attempts: 1},
		ready:      make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to apply client option: %v", err), err)
		}
	}

	if c.sink == nil {
		c.sink = intEvents.NewLogSink(c.log)
	}
	if c.bus == nil {
		c.bus = intEvents.NewEmitter(c.sink, c.log)
	}
	c.retryHelper = retry.NewHelper(c.log)
	return c, nil
}

// ID returns the client's instance identifier.
func (c *Client) ID() string { return c.id }

// Install spawns the worker at path, retrying according to the spawn retry
// policy, and attaches to it. Failures are logged and reported, then
// returned.
func (c *Client) Install(spawner transport.Spawner, path string) error {
	if spawner == nil {
		return syncerrors.NewConfigError("spawner cannot be nil", nil)
	}

	var port transport.ClientPort
	err := c.retryHelper.Do(context.Background(), retry.Config{
		Attempts:      c.spawnRetry.Attempts,
		Delay:         c.spawnRetry.Delay,
		MaxDelay:      c.spawnRetry.MaxDelay,
		BackoffFactor: c.spawnRetry.BackoffFactor,
		Name:          path,
	}, func(ctx context.Context) error {
		var spawnErr error
		port, spawnErr = spawner.Spawn(path)
		return spawnErr
	})
	if err != nil {
		c.log.Errorf("Failed to install worker '%s': %v", path, err)
		c.report(events.TransportFailure, "", path, err)
		return err
	}

	c.log.Infof("Installed worker '%s'", path)
	return c.Attach(port)
}

// Attach connects the client to port and starts receiving envelopes.
func (c *Client) Attach(port transport.ClientPort) error {
	if port == nil {
		return syncerrors.NewConfigError("client port cannot be nil", nil)
	}
	c.mu.Lock()
	if c.port != nil {
		c.mu.Unlock()
		return syncerrors.NewConfigError("client is already attached", nil)
	}
	c.port = port
	c.mu.Unlock()

	port.OnMessage(c.receive)
	return nil
}

// Ready blocks until the INIT manifest has been turned into store proxies
// and the creation events have been triggered.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stores returns the store proxies built from the manifest, keyed by type.
func (c *Client) Stores() map[string]*StoreProxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*StoreProxy, len(c.stores))
	for k, v := range c.stores {
		out[k] = v
	}
	return out
}

// Store returns the proxy of one store.
func (c *Client) Store(storeType string) (*StoreProxy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.stores[storeType]
	return p, ok
}

// Managers returns the managers announced in the manifest.
func (c *Client) Managers() []protocol.ManagerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.ManagerInfo(nil), c.managers...)
}

func (c *Client) Dispatch(storeType, action string, payload interface{}) error {
	return c.send(protocol.Command{Kind: protocol.KindDispatch, Target: storeType, Name: action, Payload: payload})
}

func (c *Client) Operate(managerType string, payload interface{}) error {
	return c.send(protocol.Command{Kind: protocol.KindOperate, Target: managerType, Payload: payload})
}

// GetAllState asks every store for its default getter. The answers arrive as
// ordinary getter envelopes on each store's subscribers.
func (c *Client) GetAllState() error {
	return c.send(protocol.Command{Kind: protocol.KindGetAllState})
}

// GetState asks for a getter result and waits for it. The request fails
// with the typed error the worker reports, such as *UnknownGetterError, or
// with the TransportError if the command could not be sent. When ctx is done
// first, the request is abandoned and ctx.Err() is returned. Calling it from
// a bus listener, CREATE_CLIENT_STORE included, deadlocks until ctx is done.
func (c *Client) GetState(ctx context.Context, storeType, getter string, payload interface{}) (interface{}, error) {
	return c.GetStateAsync(storeType, getter, payload).Wait(ctx)
}

// GetStateAsync starts a getState request. Its subscriptions are removed as
// soon as the request settles.
func (c *Client) GetStateAsync(storeType, getter string, payload interface{}) *Pending {
	if getter == "" {
		getter = protocol.DefaultGetter
	}
	p := newPending()

	valueSub := c.bus.On(storeType, func(args ...interface{}) {
		value, _, got := envelopeArgs(args)
		if got == getter {
			p.settle(value, nil)
		}
	})
	p.track(func() { c.off(storeType, valueSub) })

	faultSub := c.bus.On(protocol.TypeError, func(args ...interface{}) {
		if len(args) == 0 {
			return
		}
		fault, ok := args[0].(*protocol.Fault)
		if !ok || fault == nil {
			return
		}
		if fault.Command == protocol.KindGetState && fault.Store == storeType && fault.Name == getter {
			p.settle(nil, fault.Err())
		}
	})
	p.track(func() { c.off(protocol.TypeError, faultSub) })

	c.log.Debugf("getState '%s' on '%s' (request %s)", getter, storeType, p.ID())
	if err := c.send(protocol.Command{Kind: protocol.KindGetState, Target: storeType, Name: getter, Payload: payload}); err != nil {
		p.settle(nil, err)
	}
	return p
}

// Subscribe registers fn for eventType. Store envelopes trigger fn with
// (payload, mutation, getter); ERROR envelopes with the *protocol.Fault.
func (c *Client) Subscribe(eventType string, fn events.Handler) *events.Subscription {
	return c.bus.On(eventType, fn)
}

// Unsubscribe removes sub from eventType. A nil sub removes every listener
// of eventType, and of every type when eventType is the wildcard.
func (c *Client) Unsubscribe(eventType string, sub *events.Subscription) {
	c.bus.Off(eventType, sub)
}

// Close closes the port to the worker.
func (c *Client) Close() error {
	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

func (c *Client) SetEventBus(bus events.Bus) error {
	if bus == nil {
		return syncerrors.NewConfigError("event bus cannot be nil", nil)
	}
	c.bus = bus
	return nil
}

func (c *Client) SetDiagnosticSink(sink events.DiagnosticSink) error {
	if sink == nil {
		return syncerrors.NewConfigError("diagnostic sink cannot be nil", nil)
	}
	c.sink = sink
	return nil
}

func (c *Client) SetSpawnRetry(policy v1.RetryPolicy) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Delay < 0 || policy.MaxDelay < 0 {
		return syncerrors.NewConfigError("spawn retry delays cannot be negative", nil)
	}
	c.spawnRetry = policy
	return nil
}

// off removes one subscription; a nil sub is never passed on, since that
// would drop every listener of the type.
func (c *Client) off(eventType string, sub *events.Subscription) {
	if sub != nil {
		c.bus.Off(eventType, sub)
	}
}

// send posts cmd to the worker, reporting transport failures.
func (c *Client) send(cmd protocol.Command) error {
	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()

	var err error
	if port == nil {
		err = syncerrors.NewTransportError("postMessage", ErrNotAttached)
	} else {
		err = port.PostMessage(cmd)
	}
	if err != nil {
		c.log.Errorf("Failed to send '%s' to '%s': %v", cmd.Kind, cmd.Target, err)
		c.report(events.TransportFailure, cmd.Target, cmd.Name, err)
	}
	return err
}

// receive handles one envelope from the worker.
func (c *Client) receive(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeInit:
		c.init(env)
	case protocol.TypeError:
		if env.Error == nil {
			c.log.Warnf("Received ERROR envelope without a fault")
			return
		}
		c.report(events.RemoteFault, env.Error.Store, env.Error.Name, env.Error.Err())
		c.bus.Trigger(protocol.TypeError, env.Error)
	default:
		c.bus.Trigger(env.Type, env.Payload, env.Mutation, env.Getter)
	}
}

// init builds the store proxies from the manifest, then announces them.
func (c *Client) init(env protocol.Envelope) {
	manifest, err := decodeManifest(env.Payload)
	if err != nil {
		c.log.Errorf("Error in creating client store: %v", err)
		c.report(events.ConfigFailure, "", protocol.TypeInit, err)
		return
	}

	stores := make(map[string]*StoreProxy, len(manifest.Stores))
	for _, info := range manifest.Stores {
		stores[info.Type] = &StoreProxy{info: info, client: c}
	}

	c.mu.Lock()
	c.stores = stores
	c.managers = manifest.Managers
	c.mu.Unlock()

	c.log.Debugf("Client stores created: %d stores, %d managers", len(manifest.Stores), len(manifest.Managers))
	c.bus.Trigger(protocol.TypeInit, manifest)
	c.bus.Trigger(protocol.TypeCreateClientStore, c.Stores())
	c.bus.Trigger(protocol.TypeCreateClientManager, c.Managers())
	c.readyOnce.Do(func() { close(c.ready) })
}

// decodeManifest accepts the manifest as sent by the clone codec, or as the
// generic maps produced by the JSON codec.
func decodeManifest(payload interface{}) (protocol.Manifest, error) {
	switch m := payload.(type) {
	case protocol.Manifest:
		return m, nil
	case *protocol.Manifest:
		if m == nil {
			return protocol.Manifest{}, errors.New("nil manifest")
		}
		return *m, nil
	case nil:
		return protocol.Manifest{}, errors.New("INIT envelope carries no manifest")
	}
	var manifest protocol.Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &manifest,
	})
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("manifest decoder: %w", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return protocol.Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

func (c *Client) report(kind events.DiagnosticKind, storeType, name string, err error) {
	c.sink.Report(events.Diagnostic{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Source:    "client",
		Store:     storeType,
		Name:      name,
		Err:       err,
	})
}
