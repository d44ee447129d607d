package events

import "github.com/gxo-labs/statesync/pkg/statesync/v1/events"

// NoOpSink discards every diagnostic. Components fall back to it when no
// sink is configured so they never have to nil-check.
type NoOpSink struct{}

// NewNoOpSink creates a new instance of the NoOpSink.
func NewNoOpSink() events.DiagnosticSink {
	return &NoOpSink{}
}

// Report implements the events.DiagnosticSink interface and does nothing.
func (n *NoOpSink) Report(d events.Diagnostic) {}

var _ events.DiagnosticSink = (*NoOpSink)(nil)
