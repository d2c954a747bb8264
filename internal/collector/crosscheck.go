package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/ntp"
	"github.com/maximewewer/ntp-timekeeper/internal/sysclock"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/mathutil"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
)

// KernelReader reads the kernel clock discipline state
type KernelReader func() (*sysclock.KernelState, error)

// CrossCheckCollector compares the estimate against an independent NTPv4
// probe and, when enabled, the kernel discipline state. It never feeds the
// estimator.
type CrossCheckCollector struct {
	*CommonCollector
	estimator  *timekeeper.Estimator
	prober     ntp.Prober
	wall       WallClock
	readKernel KernelReader
}

// NewCrossCheckCollector creates a cross-check collector. It is disabled
// unless ntp.cross_check.enabled is set.
func NewCrossCheckCollector(cfg *config.Config, est *timekeeper.Estimator, prober ntp.Prober, wall WallClock, m *metrics.TimekeeperMetrics) *CrossCheckCollector {
	c := &CrossCheckCollector{
		CommonCollector: NewCommonCollector(cfg, m, "cross_check"),
		estimator:       est,
		prober:          prober,
		wall:            wall,
		readKernel:      sysclock.ReadKernel,
	}
	c.enabled = cfg.NTP.CrossCheck.Enabled
	return c
}

// WithKernelReader replaces the kernel state source
func (c *CrossCheckCollector) WithKernelReader(r KernelReader) *CrossCheckCollector {
	c.readKernel = r
	return c
}

// Collect probes the cross-check server and reads the kernel state
func (c *CrossCheckCollector) Collect(ctx context.Context) error {
	cfg := c.GetConfig().NTP.CrossCheck

	if cfg.EnableKernel {
		c.collectKernel()
	}

	return c.probe(ctx, cfg.Server)
}

func (c *CrossCheckCollector) probe(ctx context.Context, server string) error {
	m := c.GetMetrics()

	resp, err := c.prober.Probe(ctx, server)
	if errors.Is(err, ntp.ErrQueryThrottled) {
		logger.SafeDebug("collector", "Cross-check query skipped by rate limiter", map[string]interface{}{
			"server": server,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("cross-check probe failed: %w", err)
	}

	m.ProbeStratum.WithLabelValues(server).Set(float64(resp.Stratum))

	if resp.IsSuspicious() {
		reason := suspicionReason(resp)
		m.ProbeSuspiciousTotal.WithLabelValues(server, reason).Inc()
		logger.SafeWarn("collector", "Suspicious cross-check response ignored", map[string]interface{}{
			"server": server,
			"reason": reason,
		})
		return nil
	}

	m.ProbeOffsetSeconds.WithLabelValues(server).Set(resp.Offset.Seconds())

	now := c.wall.Now()
	snap := c.estimator.Snapshot(now)
	if !snap.HasReference {
		return nil
	}

	maxErr := snap.MaxError
	divergence := snap.UTC.Sub(resp.TimeAt(now))
	m.ProbeDivergenceSeconds.WithLabelValues(server).Set(divergence.Seconds())

	bound := maxErr + resp.RTT/2 + resp.RootDistance
	if mathutil.AbsDuration(divergence) > bound {
		logger.SafeWarn("collector", "Estimate disagrees with cross-check probe", map[string]interface{}{
			"server":        server,
			"divergence_ms": divergence.Milliseconds(),
			"bound_ms":      bound.Milliseconds(),
		})
	}

	return nil
}

func (c *CrossCheckCollector) collectKernel() {
	m := c.GetMetrics()

	state, err := c.readKernel()
	if err != nil {
		if !errors.Is(err, sysclock.ErrUnsupported) {
			logger.SafeWarn("collector", "Failed to read kernel clock state", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	synced := 0.0
	if state.IsSynchronized() {
		synced = 1
	}
	m.KernelSynchronized.Set(synced)
	m.KernelOffsetSeconds.Set(state.Offset.Seconds())
	m.KernelMaxErrorSeconds.Set(state.MaxError.Seconds())
	m.KernelFrequencyPPM.Set(state.FrequencyPPM())

	logger.SafeDebug("collector", "Kernel clock state updated", map[string]interface{}{
		"offset_us": state.Offset.Microseconds(),
		"freq_ppm":  state.FrequencyPPM(),
		"status":    state.SyncStatus(),
	})
}

// suspicionReason names the first check a probe response failed
func suspicionReason(r *ntp.Response) string {
	switch {
	case r.IsKissOfDeath():
		return "kiss_of_death"
	case r.Stratum == 0 || r.Stratum > ntp.MaxValidStratum:
		return "invalid_stratum"
	case !r.IsValid():
		return "validation_failed"
	case mathutil.AbsDuration(r.Offset) > ntp.SuspiciousOffsetThreshold:
		return "excessive_offset"
	case r.RTT > ntp.MaxAcceptableRTT:
		return "excessive_rtt"
	default:
		return "unknown"
	}
}
