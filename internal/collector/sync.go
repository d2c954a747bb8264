package collector

import (
	"context"
	"errors"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/ntp"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
	"github.com/sony/gobreaker"
)

// ErrNoServerReached is returned when no configured server produced a sample
var ErrNoServerReached = errors.New("no NTP server produced a sample")

// SyncCollector samples every configured server in order and feeds the
// estimator. Exchanges never overlap.
type SyncCollector struct {
	*CommonCollector
	estimator *timekeeper.Estimator
	stack     *SamplerStack
}

// NewSyncCollector creates a sync collector over stack
func NewSyncCollector(cfg *config.Config, est *timekeeper.Estimator, stack *SamplerStack, m *metrics.TimekeeperMetrics) *SyncCollector {
	return &SyncCollector{
		CommonCollector: NewCommonCollector(cfg, m, "sync"),
		estimator:       est,
		stack:           stack,
	}
}

// Collect runs one sampling round
func (c *SyncCollector) Collect(ctx context.Context) error {
	measured := 0
	updated := false

	err := c.IterateServers(ctx, func(ctx context.Context, server string) error {
		m, err := c.stack.Sampler.Sample(ctx, server)
		c.record(server, m, err)
		if err != nil {
			return err
		}
		measured++
		if m.Outcome.Updated() {
			updated = true
		}
		return nil
	}, "sync")

	c.publishStackState()

	if updated && c.GetConfig().NTP.SetSystemClock {
		c.applyToSystemClock()
	}

	if err != nil {
		return err
	}
	if measured == 0 && len(c.GetConfig().NTP.Servers) > 0 {
		return ErrNoServerReached
	}
	return nil
}

// record updates the per-server metrics for one exchange
func (c *SyncCollector) record(server string, m *ntp.Measurement, err error) {
	mt := c.GetMetrics()

	switch {
	case err == nil:
		mt.ServerReachable.WithLabelValues(server).Set(1)
		mt.SamplesTotal.WithLabelValues(server, m.Outcome.String()).Inc()
		mt.SampleLatencySeconds.WithLabelValues(server).Observe(m.LatencyMs / 1000)
		if m.Outcome.Updated() {
			mt.ReferenceUpdatesTotal.WithLabelValues(m.Outcome.String()).Inc()
		}
	case ntp.IsNoMeasurement(err):
		mt.ServerReachable.WithLabelValues(server).Set(0)
		mt.NoMeasurementTotal.WithLabelValues(server).Inc()
	default:
		mt.ServerReachable.WithLabelValues(server).Set(0)
		mt.SampleErrorsTotal.WithLabelValues(server).Inc()
	}
}

// publishStackState exports breaker and DNS cache state
func (c *SyncCollector) publishStackState() {
	mt := c.GetMetrics()

	if c.stack.Breaker != nil {
		states := c.stack.Breaker.GetAllStates()
		for _, server := range c.GetConfig().NTP.Servers {
			state, ok := states[server]
			if !ok {
				state = gobreaker.StateClosed
			}
			mt.CircuitBreakerState.WithLabelValues(server).Set(breakerStateValue(state))
			counts := c.stack.Breaker.GetCounts(server)
			mt.CircuitBreakerFailures.WithLabelValues(server).Set(float64(counts.ConsecutiveFailures))
		}
	}

	if c.stack.Resolver != nil {
		stats := c.stack.Resolver.Stats()
		mt.DNSCacheEntries.WithLabelValues("valid").Set(float64(stats.Valid))
		mt.DNSCacheEntries.WithLabelValues("expired").Set(float64(stats.Expired))
	}
}

func (c *SyncCollector) applyToSystemClock() {
	if err := c.estimator.ApplyToSystemClock(); err != nil {
		c.GetMetrics().SystemClockSetsTotal.WithLabelValues("failure").Inc()
		logger.SafeWarn("collector", "Failed to apply reference to system clock", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	c.GetMetrics().SystemClockSetsTotal.WithLabelValues("success").Inc()
}
