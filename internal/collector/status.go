package collector

import (
	"context"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
)

// WallClock reads the host wall clock
type WallClock interface {
	Now() time.Time
}

// StatusCollector publishes the estimator state as gauges
type StatusCollector struct {
	*CommonCollector
	estimator *timekeeper.Estimator
	wall      WallClock
}

// NewStatusCollector creates a status collector
func NewStatusCollector(est *timekeeper.Estimator, wall WallClock, m *metrics.TimekeeperMetrics) *StatusCollector {
	return &StatusCollector{
		CommonCollector: NewCommonCollector(nil, m, "status"),
		estimator:       est,
		wall:            wall,
	}
}

// Collect refreshes the reference, attempt and status gauges
func (c *StatusCollector) Collect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := c.GetMetrics()
	now := c.wall.Now()

	snap := c.estimator.Snapshot(now)

	m.ReferenceMaxErrorSeconds.Set(snap.MaxError.Seconds())
	if snap.HasReference {
		m.ReferenceEstablished.Set(1)
		m.ReferenceAgeSeconds.Set(snap.UTC.Sub(snap.Reference.UTC).Seconds())
		m.UTCOffsetSeconds.Set(snap.UTC.Sub(now).Seconds())
	} else {
		m.ReferenceEstablished.Set(0)
		m.ReferenceAgeSeconds.Set(0)
		m.UTCOffsetSeconds.Set(0)
	}

	m.SampleAttempts.Set(float64(snap.Attempts.Attempts))
	if !snap.Attempts.FirstAttempt.IsZero() {
		m.FirstAttemptAgeSeconds.Set(now.Sub(snap.Attempts.FirstAttempt).Seconds())
	}

	m.StatusLevel.Set(float64(snap.Status.Level))
	m.StatusInfo.Reset()
	m.StatusInfo.WithLabelValues(snap.Status.Level.String(), snap.Status.Level.Colour()).Set(1)

	return nil
}
