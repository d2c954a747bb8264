package timekeeper

import (
	"sync"
	"time"
)

// fakeMonotonic is a settable MonotonicClock
type fakeMonotonic struct {
	mu        sync.Mutex
	ticks     int64
	frequency int64
}

func (f *fakeMonotonic) Now() (int64, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks, f.frequency
}

func (f *fakeMonotonic) set(ticks int64) {
	f.mu.Lock()
	f.ticks = ticks
	f.mu.Unlock()
}

// fakeWall is a settable SystemClock that records Set calls
type fakeWall struct {
	mu     sync.Mutex
	now    time.Time
	set    []time.Time
	setErr error
}

func (f *fakeWall) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeWall) Set(utc time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.set = append(f.set, utc)
	return nil
}

func (f *fakeWall) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

const testFrequency = 1_000_000

var t0 = time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC)

func newTestEstimator() (*Estimator, *fakeMonotonic, *fakeWall) {
	mono := &fakeMonotonic{frequency: testFrequency}
	wall := &fakeWall{now: t0}
	return NewEstimator(mono, wall), mono, wall
}

// sampleAt builds a sample whose midpoint lands on midTick with the given
// round trip in milliseconds.
func sampleAt(midTick int64, roundTripMs int64, utc time.Time) TimeSample {
	half := roundTripMs * testFrequency / 1000 / 2
	return TimeSample{
		SendTick:    midTick - half,
		ReceiveTick: midTick + half,
		Frequency:   testFrequency,
		ServerTime:  utc,
	}
}
