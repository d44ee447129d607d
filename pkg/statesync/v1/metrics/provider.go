package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives access to the registry statesync components register
// their collectors on, so callers can expose it however they like.
type RegistryProvider interface {
	// Registry returns the Prometheus registry holding statesync metrics.
	Registry() *prometheus.Registry
}
