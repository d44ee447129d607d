// Package transport defines the two primitives statesync needs from its
// environment: spawning a worker by path, and a duplex message port.
package transport

import "github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"

// Port is one end of an asynchronous, order-preserving message channel.
// Messages posted on one end are delivered to the peer's handler one at a
// time, in send order.
type Port[Out, In any] interface {
	// PostMessage copies msg across the boundary. It returns a
	// TransportError when the port is closed or msg cannot be copied.
	PostMessage(msg Out) error
	// OnMessage installs the single inbound handler, replacing any previous one.
	// Messages received before a handler is installed are held until then.
	OnMessage(fn func(In))
	// Close stops delivery on both ends. Further posts fail.
	Close() error
}

// WorkerPort is the worker's end: it posts envelopes and receives commands.
type WorkerPort = Port[protocol.Envelope, protocol.Command]

// ClientPort is an observer's end: it posts commands and receives envelopes.
type ClientPort = Port[protocol.Command, protocol.Envelope]

// WorkerMain is the entry point of a worker context. It receives its port and
// typically registers stores on a router and starts it.
type WorkerMain func(port WorkerPort)

// Spawner starts worker contexts.
type Spawner interface {
	// Spawn starts the worker identified by path and returns the observer's port.
	Spawn(path string) (ClientPort, error)
}
