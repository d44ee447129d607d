package events

import (
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
)

// LogSink writes each diagnostic to a logger at WARN level.
type LogSink struct {
	log synclog.Logger
}

// NewLogSink creates a LogSink. Panics if log is nil.
func NewLogSink(log synclog.Logger) *LogSink {
	if log == nil {
		panic("LogSink requires a non-nil logger")
	}
	return &LogSink{log: log.With("component", "LogSink")}
}

func (s *LogSink) Report(d events.Diagnostic) {
	s.log.Warnf("diagnostic kind=%s source=%s store=%s name=%s: %v", d.Kind, d.Source, d.Store, d.Name, d.Err)
}

var _ events.DiagnosticSink = (*LogSink)(nil)
