package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry manages Prometheus metric registration
type Registry struct {
	registry *prometheus.Registry
	metrics  *TimekeeperMetrics
	labels   prometheus.Labels
}

// NewRegistry creates a registry with the default ntp_timekeeper prefix
func NewRegistry() *Registry {
	return NewRegistryWithConfig("ntp", "timekeeper")
}

// NewRegistryWithConfig creates a new metrics registry with custom namespace and subsystem
func NewRegistryWithConfig(namespace, subsystem string) *Registry {
	return &Registry{
		registry: prometheus.NewRegistry(),
		metrics:  NewTimekeeperMetricsWithConfig(namespace, subsystem),
	}
}

// WithConstLabels attaches labels to every timekeeper metric. It must be
// called before Register.
func (r *Registry) WithConstLabels(labels map[string]string) *Registry {
	r.labels = prometheus.Labels(labels)
	return r
}

// Register registers the timekeeper metrics and the Go runtime collectors
func (r *Registry) Register() error {
	var reg prometheus.Registerer = r.registry
	if len(r.labels) > 0 {
		reg = prometheus.WrapRegistererWith(r.labels, r.registry)
	}
	if err := reg.Register(r.metrics); err != nil {
		return err
	}

	r.registry.MustRegister(collectors.NewGoCollector())
	r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return nil
}

// GetRegistry returns the underlying Prometheus registry
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// GetMetrics returns the timekeeper metrics instance
func (r *Registry) GetMetrics() *TimekeeperMetrics {
	return r.metrics
}

// MustRegister registers all metrics and panics on error
func (r *Registry) MustRegister() {
	if err := r.Register(); err != nil {
		panic(err)
	}
}
