package transport

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/transport"
)

// ErrClosed is the cause of the TransportError returned when posting on a
// closed pipe.
var ErrClosed = errors.New("port is closed")

// PipeOptions configures a Pipe.
type PipeOptions struct {
	// Codec copies each message; the zero value means CodecClone.
	Codec Codec
	// WarnDepth logs a warning each time a mailbox backlog reaches a multiple
	// of this many undelivered messages. Zero disables the warning.
	WarnDepth int
	// Name labels log lines, usually the worker path.
	Name string
	Log  synclog.Logger
}

// link is the state shared by both ends of a pipe.
type link struct {
	once sync.Once
	done chan struct{}
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Pipe creates a connected pair of ports. Each end delivers inbound messages
// on its own goroutine, one at a time and in send order, so a handler may post
// back without deadlocking the peer. Messages posted before the receiving end
// installs its handler are held until it does. Closing either end stops both.
func Pipe(opts PipeOptions) (transport.WorkerPort, transport.ClientPort) {
	if opts.Log == nil {
		panic("transport.Pipe requires a non-nil logger")
	}
	if opts.Codec == "" {
		opts.Codec = CodecClone
	}
	log := opts.Log.With("component", "Pipe", "pipe", opts.Name)
	shared := &link{done: make(chan struct{})}

	toWorker := newMailbox[protocol.Command](shared, opts.WarnDepth, log.With("direction", "to_worker"))
	toClient := newMailbox[protocol.Envelope](shared, opts.WarnDepth, log.With("direction", "to_client"))
	go toWorker.run()
	go toClient.run()

	worker := &endpoint[protocol.Envelope, protocol.Command]{shared: shared, inbox: toWorker, outbox: toClient, codec: opts.Codec, log: log}
	client := &endpoint[protocol.Command, protocol.Envelope]{shared: shared, inbox: toClient, outbox: toWorker, codec: opts.Codec, log: log}
	log.Debugf("Pipe opened with codec '%s'", opts.Codec)
	return worker, client
}

// endpoint is one side of a Pipe.
type endpoint[Out, In any] struct {
	shared *link
	inbox  *mailbox[In]
	outbox *mailbox[Out]
	codec  Codec
	log    synclog.Logger
}

func (e *endpoint[Out, In]) PostMessage(msg Out) error {
	if e.shared.isClosed() {
		return syncerrors.NewTransportError("postMessage", ErrClosed)
	}
	copied, err := transfer(e.codec, msg)
	if err != nil {
		return syncerrors.NewTransportError("postMessage", fmt.Errorf("%s codec: %w", e.codec, err))
	}
	e.outbox.push(copied)
	return nil
}

func (e *endpoint[Out, In]) OnMessage(fn func(In)) {
	e.inbox.setHandler(fn)
}

func (e *endpoint[Out, In]) Close() error {
	e.shared.close()
	return nil
}

// mailbox is an unbounded FIFO drained by a single goroutine.
type mailbox[T any] struct {
	shared    *link
	warnDepth int
	log       synclog.Logger

	mu      sync.Mutex
	queue   []T
	handler func(T)
	signal  chan struct{}
}

func newMailbox[T any](shared *link, warnDepth int, log synclog.Logger) *mailbox[T] {
	return &mailbox[T]{
		shared:    shared,
		warnDepth: warnDepth,
		log:       log,
		signal:    make(chan struct{}, 1),
	}
}

func (m *mailbox[T]) push(msg T) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	depth := len(m.queue)
	m.mu.Unlock()

	if m.warnDepth > 0 && depth%m.warnDepth == 0 {
		m.log.Warnf("Mailbox backlog reached %d undelivered messages", depth)
	}
	m.notify()
}

func (m *mailbox[T]) setHandler(fn func(T)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox[T]) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// next pops the head of the queue when a handler is installed.
func (m *mailbox[T]) next() (T, func(T), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.queue) == 0 || m.handler == nil {
		return zero, nil, false
	}
	msg := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	return msg, m.handler, true
}

func (m *mailbox[T]) run() {
	for {
		select {
		case <-m.shared.done:
			return
		case <-m.signal:
		}
		for {
			msg, handler, ok := m.next()
			if !ok {
				break
			}
			if m.shared.isClosed() {
				return
			}
			m.deliver(handler, msg)
		}
	}
}

func (m *mailbox[T]) deliver(handler func(T), msg T) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("Message handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	handler(msg)
}

var (
	_ transport.WorkerPort = (*endpoint[protocol.Envelope, protocol.Command])(nil)
	_ transport.ClientPort = (*endpoint[protocol.Command, protocol.Envelope])(nil)
)
