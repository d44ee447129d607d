package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
)

// Emitter is the in-process implementation of events.Bus used by the client
// proxy layer. Listeners run synchronously on the triggering goroutine, outside
// the emitter's lock, so they may subscribe or unsubscribe freely.
type Emitter struct {
	mu        sync.RWMutex
	callbacks map[string][]*events.Subscription
	sink      events.DiagnosticSink
	log       synclog.Logger
}

// NewEmitter creates an empty Emitter. Listener panics are recovered and
// reported to sink; a nil sink falls back to a NoOpSink.
func NewEmitter(sink events.DiagnosticSink, log synclog.Logger) *Emitter {
	if log == nil {
		panic("Emitter requires a non-nil logger")
	}
	if sink == nil {
		sink = NewNoOpSink()
	}
	return &Emitter{
		callbacks: make(map[string][]*events.Subscription),
		sink:      sink,
		log:       log.With("component", "Emitter"),
	}
}

// On registers fn for eventType and returns its subscription.
func (e *Emitter) On(eventType string, fn events.Handler) *events.Subscription {
	if fn == nil {
		return nil
	}
	sub := events.NewSubscription(eventType, fn)
	e.mu.Lock()
	e.callbacks[eventType] = append(e.callbacks[eventType], sub)
	e.mu.Unlock()
	return sub
}

// Off removes sub from eventType, or the whole list when sub is nil. A nil
// sub with the wildcard type clears every registration.
func (e *Emitter) Off(eventType string, sub *events.Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub == nil {
		if eventType == events.Wildcard {
			e.callbacks = make(map[string][]*events.Subscription)
			return
		}
		delete(e.callbacks, eventType)
		return
	}

	list := e.callbacks[eventType]
	kept := make([]*events.Subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.callbacks, eventType)
		return
	}
	e.callbacks[eventType] = kept
}

// One registers fn so that it runs at most once, even when eventType is
// triggered concurrently.
func (e *Emitter) One(eventType string, fn events.Handler) *events.Subscription {
	if fn == nil {
		return nil
	}
	var (
		once sync.Once
		sub  *events.Subscription
	)
	ready := make(chan struct{})
	sub = e.On(eventType, func(args ...interface{}) {
		<-ready
		once.Do(func() {
			e.Off(eventType, sub)
			fn(args...)
		})
	})
	close(ready)
	return sub
}

// Trigger calls a snapshot of eventType's listeners with args, then the
// wildcard listeners with (eventType, args...).
func (e *Emitter) Trigger(eventType string, args ...interface{}) {
	e.mu.RLock()
	snapshot := append([]*events.Subscription(nil), e.callbacks[eventType]...)
	_, hasWildcard := e.callbacks[events.Wildcard]
	e.mu.RUnlock()

	for _, sub := range snapshot {
		e.invoke(eventType, sub, args)
	}

	if hasWildcard && eventType != events.Wildcard {
		e.Trigger(events.Wildcard, append([]interface{}{eventType}, args...)...)
	}
}

// Count returns the number of listeners registered for eventType.
func (e *Emitter) Count(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.callbacks[eventType])
}

// invoke runs one listener, isolating the remaining ones from its panic.
func (e *Emitter) invoke(eventType string, sub *events.Subscription, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("listener panic: %v", r)
			e.log.Errorf("Listener for '%s' panicked: %v\n%s", eventType, r, debug.Stack())
			e.sink.Report(events.Diagnostic{
				ID:        uuid.NewString(),
				Kind:      events.HandlerPanic,
				Timestamp: time.Now(),
				Source:    "emitter",
				Name:      eventType,
				Err:       err,
			})
		}
	}()
	sub.Handler()(args...)
}

var _ events.Bus = (*Emitter)(nil)
