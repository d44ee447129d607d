package metrics

import (
	statesyncmetrics "github.com/gxo-labs/statesync/pkg/statesync/v1/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusRegistryProvider implements RegistryProvider with a private
// Prometheus registry, so several routers in one process never collide on
// the default registry.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates an empty registry.
func NewPrometheusRegistryProvider() *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// NewProcessRegistryProvider creates a registry that also exports the Go
// runtime and process collectors. The demo binary serves it on /metrics.
func NewProcessRegistryProvider() *PrometheusRegistryProvider {
	p := NewPrometheusRegistryProvider()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

// Register adds c to reg, treating an identical collector that is already
// registered as success. It returns the collector that ended up registered.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

var _ statesyncmetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)
