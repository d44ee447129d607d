package router

import (
	intMetrics "github.com/gxo-labs/statesync/internal/metrics"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Command outcome labels.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusIgnored = "ignored"
)

type routerMetrics struct {
	commands  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	commits   *prometheus.CounterVec
	envelopes *prometheus.CounterVec
}

// newRouterMetrics registers the router collectors on reg. Routers sharing a
// registry share the collectors.
func newRouterMetrics(reg prometheus.Registerer, log synclog.Logger) *routerMetrics {
	m := &routerMetrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "statesync_commands_total", Help: "Total number of commands received by the router, by kind and outcome."},
			[]string{"kind", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "statesync_command_duration_seconds", Help: "Time spent routing a command in seconds.", Buckets: prometheus.DefBuckets},
			[]string{"kind"},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "statesync_commits_total", Help: "Total number of committed mutations, by store and mutation."},
			[]string{"store", "mutation"},
		),
		envelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "statesync_envelopes_posted_total", Help: "Total number of envelopes posted to observers, by kind."},
			[]string{"kind"},
		),
	}

	var err error
	if m.commands, err = intMetrics.Register(reg, m.commands); err != nil {
		log.Warnf("Failed to register commands metric collector: %v", err)
	}
	if m.duration, err = intMetrics.Register(reg, m.duration); err != nil {
		log.Warnf("Failed to register duration metric collector: %v", err)
	}
	if m.commits, err = intMetrics.Register(reg, m.commits); err != nil {
		log.Warnf("Failed to register commits metric collector: %v", err)
	}
	if m.envelopes, err = intMetrics.Register(reg, m.envelopes); err != nil {
		log.Warnf("Failed to register envelopes metric collector: %v", err)
	}
	return m
}

// kindLabel keeps label cardinality bounded for unknown command kinds.
func kindLabel(kind protocol.CommandKind) string {
	switch kind {
	case protocol.KindDispatch, protocol.KindOperate, protocol.KindGetState, protocol.KindGetAllState:
		return string(kind)
	default:
		return "unknown"
	}
}

// envelopeLabel classifies a posted envelope.
func envelopeLabel(env protocol.Envelope) string {
	switch {
	case env.IsMutation():
		return "mutation"
	case env.IsGetter():
		return "getter"
	case env.Type == protocol.TypeError:
		return "fault"
	default:
		return "lifecycle"
	}
}
