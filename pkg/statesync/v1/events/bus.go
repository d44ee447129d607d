package events

import "time"

// Wildcard is the event type whose listeners receive every triggered event,
// with the original event type prepended to the arguments.
const Wildcard = "*"

// Handler is a callback registered on a Bus. The arguments are whatever the
// triggering side passed to Trigger.
type Handler func(args ...interface{})

// Subscription is the identity of one registration on a Bus. Registering the
// same function twice yields two distinct subscriptions; Off removes exactly
// the subscription it is given.
type Subscription struct {
	eventType string
	fn        Handler
}

// NewSubscription binds fn to eventType. Bus implementations use it to mint
// the tokens they hand out from On and One.
func NewSubscription(eventType string, fn Handler) *Subscription {
	return &Subscription{eventType: eventType, fn: fn}
}

// EventType returns the event type the subscription was registered for.
func (s *Subscription) EventType() string { return s.eventType }

// Handler returns the callback bound to the subscription.
func (s *Subscription) Handler() Handler { return s.fn }

// Bus is a publish/subscribe hub keyed by event type.
// Implementations must be safe for concurrent use.
type Bus interface {
	// On registers fn for eventType. A nil fn is ignored and yields nil.
	On(eventType string, fn Handler) *Subscription

	// Off removes registrations. With a non-nil sub only that subscription is
	// removed from eventType. With a nil sub the whole list for eventType is
	// dropped, or every list when eventType is Wildcard.
	Off(eventType string, sub *Subscription)

	// One registers fn so that it fires at most once for eventType.
	One(eventType string, fn Handler) *Subscription

	// Trigger invokes a snapshot of eventType's listeners in registration
	// order, then re-triggers Wildcard listeners with (eventType, args...)
	// when eventType is not itself Wildcard.
	Trigger(eventType string, args ...interface{})
}

// DiagnosticKind categorizes a reported problem.
type DiagnosticKind string

const (
	ConfigFailure     DiagnosticKind = "ConfigFailure"     // A store or manager registration was rejected.
	TransportFailure  DiagnosticKind = "TransportFailure"  // A message could not be posted across the boundary.
	UnroutableCommand DiagnosticKind = "UnroutableCommand" // A command named an unregistered store or manager.
	StoreFailure      DiagnosticKind = "StoreFailure"      // Unknown action, mutation, or getter.
	HandlerFailure    DiagnosticKind = "HandlerFailure"    // User code returned an error or panicked.
	HandlerPanic      DiagnosticKind = "HandlerPanic"      // A bus listener panicked during Trigger.
	RemoteFault       DiagnosticKind = "RemoteFault"       // The worker reported a fault for a client command.
)

// Diagnostic is a single problem report delivered to a DiagnosticSink.
type Diagnostic struct {
	ID        string         `json:"id"`
	Kind      DiagnosticKind `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	// Source identifies the reporting component, e.g. "router" or "client".
	Source string `json:"source,omitempty"`
	// Store is the store or manager type involved, if any.
	Store string `json:"store,omitempty"`
	// Name is the action, mutation, getter, manager or event type involved, if any.
	Name string `json:"name,omitempty"`
	Err  error  `json:"-"`
}

// DiagnosticSink is the process-wide destination for failures that have no
// caller to return to, such as dropped commands or panicking listeners.
type DiagnosticSink interface {
	// Report records a diagnostic. Implementations must not block the caller.
	Report(d Diagnostic)
}
