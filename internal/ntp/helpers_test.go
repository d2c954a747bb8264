package ntp

import (
	"sync"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
)

const testFrequency = 1_000_000

// stepClock is a MonotonicClock that advances by step on every reading
type stepClock struct {
	mu    sync.Mutex
	ticks int64
	step  int64
}

func (c *stepClock) Now() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.ticks
	c.ticks += c.step
	return now, testFrequency
}

// fixedWall is a SystemClock frozen at a single instant
type fixedWall struct {
	now time.Time
}

func (w fixedWall) Now() time.Time      { return w.now }
func (w fixedWall) Set(time.Time) error { return nil }

// newTestEstimator returns an estimator whose clock advances 20ms per reading
func newTestEstimator() (*timekeeper.Estimator, *stepClock) {
	clock := &stepClock{step: 20 * testFrequency / 1000}
	return timekeeper.NewEstimator(clock, fixedWall{now: time.Now().UTC()}), clock
}

// testSample builds a sample with a round trip of rttMs milliseconds
func testSample(sendTick, rttMs int64, utc time.Time) timekeeper.TimeSample {
	return timekeeper.TimeSample{
		SendTick:    sendTick,
		ReceiveTick: sendTick + rttMs*testFrequency/1000,
		Frequency:   testFrequency,
		ServerTime:  utc,
	}
}
