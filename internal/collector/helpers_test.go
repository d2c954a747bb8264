package collector

import (
	"sync"
	"testing"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testFrequency = 1_000_000

var serverNow = time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC)

// manualClock is a MonotonicClock moved explicitly by tests
type manualClock struct {
	mu    sync.Mutex
	ticks int64
}

func (c *manualClock) Now() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks, testFrequency
}

func (c *manualClock) Set(ticks int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = ticks
}

// recordingWall is a settable SystemClock that remembers every Set
type recordingWall struct {
	mu   sync.Mutex
	now  time.Time
	sets []time.Time
	err  error
}

func (w *recordingWall) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *recordingWall) Set(utc time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.sets = append(w.sets, utc)
	return nil
}

func (w *recordingWall) Advance(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = w.now.Add(d)
}

func (w *recordingWall) Sets() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.sets...)
}

type fixture struct {
	est  *timekeeper.Estimator
	mono *manualClock
	wall *recordingWall
	reg  *prometheus.Registry
	m    *metrics.TimekeeperMetrics
	cfg  *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mono := &manualClock{}
	wall := &recordingWall{now: serverNow.Add(-2 * time.Second)}
	reg := metrics.NewRegistry()
	require.NoError(t, reg.Register())

	cfg := config.DefaultConfig()
	cfg.NTP.Servers = []string{"a.ntp.test", "b.ntp.test"}

	return &fixture{
		est:  timekeeper.NewEstimator(mono, wall),
		mono: mono,
		wall: wall,
		reg:  reg.GetRegistry(),
		m:    reg.GetMetrics(),
		cfg:  cfg,
	}
}

// sample builds a sample sent at sendTick with a round trip of rttMs
func sample(sendTick, rttMs int64, utc time.Time) timekeeper.TimeSample {
	return timekeeper.TimeSample{
		SendTick:    sendTick,
		ReceiveTick: sendTick + rttMs*testFrequency/1000,
		Frequency:   testFrequency,
		ServerTime:  utc,
	}
}
