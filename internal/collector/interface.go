// Package collector runs the periodic jobs of the timekeeper.
//
// The package includes three collector types:
//   - SyncCollector: samples the configured servers and feeds the estimator
//   - StatusCollector: publishes the reference and accuracy tier
//   - CrossCheckCollector: compares the estimate with an NTPv4 probe and the kernel
//
// All collectors implement the Collector interface and are run in order
// through a Registry on every sync tick.
//
// Usage:
//
//	registry := collector.NewRegistry(m)
//	registry.Register(collector.NewSyncCollector(cfg, est, stack, m))
//	registry.Register(collector.NewStatusCollector(est, m))
//	if err := registry.CollectAll(ctx); err != nil {
//	    logger.Error("main", "collection failed", err)
//	}
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
)

// Collector represents a periodic job
type Collector interface {
	// Collect runs one cycle
	Collect(ctx context.Context) error

	// Name returns the name of the collector
	Name() string

	// Enabled indicates if the collector is active
	Enabled() bool
}

// Registry manages multiple collectors
type Registry struct {
	collectors []Collector
	metrics    *metrics.TimekeeperMetrics
}

// NewRegistry creates a new collector registry. m may be nil.
func NewRegistry(m *metrics.TimekeeperMetrics) *Registry {
	return &Registry{
		collectors: make([]Collector, 0),
		metrics:    m,
	}
}

// Register registers a collector
func (r *Registry) Register(c Collector) {
	r.collectors = append(r.collectors, c)
}

// CollectAll runs every enabled collector in registration order. A failing
// collector does not stop the others; all errors are joined.
func (r *Registry) CollectAll(ctx context.Context) error {
	var errs []error

	for _, c := range r.collectors {
		if !c.Enabled() {
			continue
		}

		start := time.Now()
		err := c.Collect(ctx)
		if r.metrics != nil {
			r.metrics.CollectorDurationSeconds.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			logger.SafeWarn("collector", "Collection failed", map[string]interface{}{
				"collector": c.Name(),
				"error":     err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}

	if r.metrics != nil {
		status := "success"
		if len(errs) > 0 {
			status = "failure"
		}
		r.metrics.CollectionsTotal.WithLabelValues(status).Inc()
	}

	return errors.Join(errs...)
}

// List returns all registered collectors
func (r *Registry) List() []Collector {
	return r.collectors
}

// Count returns the number of registered collectors
func (r *Registry) Count() int {
	return len(r.collectors)
}

// EnabledCount returns the number of enabled collectors
func (r *Registry) EnabledCount() int {
	count := 0
	for _, c := range r.collectors {
		if c.Enabled() {
			count++
		}
	}
	return count
}
