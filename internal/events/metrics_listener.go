package events

import (
	"context"

	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsListener drains a ChannelSink, counting diagnostics by kind and
// forwarding each one to an optional downstream sink.
type MetricsListener struct {
	sink    *ChannelSink
	log     synclog.Logger
	counter *prometheus.CounterVec
	forward events.DiagnosticSink
}

// NewMetricsListener creates a listener for sink that increments counter,
// labelled by "kind" and "source". forward may be nil.
func NewMetricsListener(sink *ChannelSink, counter *prometheus.CounterVec, forward events.DiagnosticSink, log synclog.Logger) *MetricsListener {
	if sink == nil || counter == nil || log == nil {
		panic("MetricsListener requires a non-nil ChannelSink, Prometheus CounterVec, and Logger")
	}
	return &MetricsListener{
		sink:    sink,
		log:     log.With("component", "MetricsListener"),
		counter: counter,
		forward: forward,
	}
}

// NewDiagnosticsCounter builds the counter MetricsListener expects.
func NewDiagnosticsCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statesync_diagnostics_total", Help: "Total number of diagnostics reported, by kind and source."},
		[]string{"kind", "source"},
	)
}

// Start consumes diagnostics until the sink is closed or ctx is done.
// Run it in its own goroutine.
func (l *MetricsListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics listener...")
	for {
		select {
		case d, ok := <-l.sink.GetChannel():
			if !ok {
				l.log.Debugf("Diagnostic channel closed, stopping listener.")
				return
			}
			l.handle(d)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics listener.")
			return
		}
	}
}

func (l *MetricsListener) handle(d events.Diagnostic) {
	l.counter.WithLabelValues(string(d.Kind), d.Source).Inc()
	if l.forward != nil {
		l.forward.Report(d)
	}
}
