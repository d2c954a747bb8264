// Package timekeeper maintains the best-known mapping between a local
// monotonic counter and UTC.
//
// The Estimator is fed TimeSamples produced by the NTP sampler. It keeps one
// current reference and the oldest reference ever established, and only
// replaces the current one when a sample has a tighter error bound or when
// the counter has visibly drifted away from UTC since the first reference.
//
// Usage:
//
//	est := timekeeper.NewEstimator(sysclock.NewMonotonic(), sysclock.New())
//	est.RecordAttempt()
//	est.Process(sample)
//	utc, maxErr := est.UtcNow()
package timekeeper

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/mathutil"
)

const (
	// UnsetMaxError is the error bound reported while no reference exists
	UnsetMaxError = 60 * time.Second

	// DriftCheckAfter is how long after the first reference drift checks start
	DriftCheckAfter = 10 * time.Minute
)

// ErrNoReference is returned when an operation needs an established reference
var ErrNoReference = errors.New("no time reference established")

// Outcome describes what Process did with a sample
type Outcome int

const (
	// OutcomeDiscarded means the sample had a degenerate round trip
	OutcomeDiscarded Outcome = iota
	// OutcomeEstablished means the sample became the first reference
	OutcomeEstablished
	// OutcomeRebased means the counter changed frequency or epoch and the reference was reset
	OutcomeRebased
	// OutcomeImproved means the sample had a tighter error bound
	OutcomeImproved
	// OutcomeDriftCorrected means accumulated drift exceeded the sample tolerance
	OutcomeDriftCorrected
	// OutcomeKept means the current reference was retained
	OutcomeKept
)

// String returns the outcome name used in logs and metric labels
func (o Outcome) String() string {
	switch o {
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeEstablished:
		return "established"
	case OutcomeRebased:
		return "rebased"
	case OutcomeImproved:
		return "improved"
	case OutcomeDriftCorrected:
		return "drift_corrected"
	case OutcomeKept:
		return "kept"
	default:
		return "unknown"
	}
}

// Updated reports whether the outcome replaced the reference
func (o Outcome) Updated() bool {
	return o == OutcomeEstablished || o == OutcomeRebased || o == OutcomeImproved || o == OutcomeDriftCorrected
}

// TimeReference is a snapshot of the estimator state
type TimeReference struct {
	Frequency  int64
	Tick       int64
	UTC        time.Time
	MaxErrorMs int64
	FirstTick  int64
	FirstUTC   time.Time
}

// AttemptTracker is a snapshot of sampling attempt history
type AttemptTracker struct {
	FirstAttempt time.Time
	Attempts     int64
}

// Estimator owns the current time reference.
// All methods are safe for concurrent use.
type Estimator struct {
	mu   sync.RWMutex
	mono MonotonicClock
	wall SystemClock

	ref      TimeReference
	hasRef   bool
	attempts AttemptTracker
}

// NewEstimator creates an estimator with no reference
func NewEstimator(mono MonotonicClock, wall SystemClock) *Estimator {
	return &Estimator{
		mono: mono,
		wall: wall,
		ref: TimeReference{
			Frequency: -1,
			FirstTick: math.MaxInt64,
		},
	}
}

// RecordAttempt notes that a sampling attempt is about to be made
func (e *Estimator) RecordAttempt() {
	now := e.wall.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts.Attempts++
	if e.attempts.FirstAttempt.IsZero() {
		e.attempts.FirstAttempt = now
	}
}

// Process feeds one sample into the estimator
func (e *Estimator) Process(s TimeSample) Outcome {
	if !s.Valid() {
		logger.SafeDebug("timekeeper", "Degenerate sample discarded", map[string]interface{}{
			"round_trip_ms": s.RoundTripMs(),
		})
		return OutcomeDiscarded
	}

	maxError := s.MaxErrorMs()
	tick := s.MidpointTick()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ref.Frequency != s.Frequency {
		first := e.ref.Frequency <= 0
		e.establish(tick, s, maxError)
		if first {
			logger.Reference("established", maxError, 0)
			return OutcomeEstablished
		}
		logger.Reference("frequency_changed", maxError, 0)
		return OutcomeRebased
	}

	if e.ref.FirstTick > tick {
		// The counter restarted below the first reference (sleep/resume or wrap).
		e.establish(tick, s, maxError)
		logger.Reference("counter_reset", maxError, 0)
		return OutcomeRebased
	}

	if maxError < e.ref.MaxErrorMs {
		logger.SafeDebug("timekeeper", "Tighter error bound received", map[string]interface{}{
			"new_max_error_ms": maxError,
			"old_max_error_ms": e.ref.MaxErrorMs,
		})
		e.update(tick, s, maxError)
		logger.Reference("improved", maxError, 0)
		return OutcomeImproved
	}

	drift, ok := e.driftMs(tick, s)
	if ok && drift > float64(maxError)/2.0 {
		e.update(tick, s, maxError)
		logger.Reference("drift_corrected", maxError, drift)
		return OutcomeDriftCorrected
	}

	return OutcomeKept
}

// driftMs computes the accumulated drift for a sample. ok is false while the
// first reference is younger than DriftCheckAfter or the counter has not
// advanced since it.
func (e *Estimator) driftMs(tick int64, s TimeSample) (float64, bool) {
	sinceFirst := s.ServerTime.Sub(e.ref.FirstUTC)
	if sinceFirst <= DriftCheckAfter {
		return 0, false
	}

	elapsedMinutes := sinceFirst.Minutes()
	totalMinutesAtRate := float64(tick-e.ref.FirstTick) * 1000.0 / float64(s.Frequency) / 60000.0
	if totalMinutesAtRate <= 0 {
		return 0, false
	}

	sectionRatio := float64(s.ServerTime.Sub(e.ref.UTC)) / float64(sinceFirst)
	return sectionRatio * mathutil.AbsFloat64(totalMinutesAtRate-elapsedMinutes) * 60000.0, true
}

// establish resets both the current and the first reference
func (e *Estimator) establish(tick int64, s TimeSample, maxError int64) {
	e.ref.FirstTick = math.MaxInt64
	e.update(tick, s, maxError)
	e.hasRef = true
}

func (e *Estimator) update(tick int64, s TimeSample, maxError int64) {
	e.ref.Frequency = s.Frequency
	e.ref.Tick = tick
	e.ref.UTC = s.ServerTime
	e.ref.MaxErrorMs = maxError

	if e.ref.FirstTick > tick {
		e.ref.FirstTick = tick
		e.ref.FirstUTC = s.ServerTime
	}
}

// UtcNow returns the current UTC estimate and its error bound. Without a
// reference it falls back to the wall clock with UnsetMaxError.
func (e *Estimator) UtcNow() (time.Time, time.Duration) {
	e.mu.RLock()
	ref, ok := e.ref, e.hasRef
	e.mu.RUnlock()

	return e.estimate(ref, ok)
}

func (e *Estimator) estimate(ref TimeReference, ok bool) (time.Time, time.Duration) {
	if !ok {
		return e.wall.Now().UTC(), UnsetMaxError
	}

	ticks, _ := e.mono.Now()
	ms := float64(ticks-ref.Tick) * 1000.0 / float64(ref.Frequency)
	offset := time.Duration(math.Round(ms * float64(time.Millisecond)))
	return ref.UTC.Add(offset), time.Duration(ref.MaxErrorMs) * time.Millisecond
}

// Snapshot is a consistent view of the estimator: the estimate and status
// are derived from the same reference and attempt history.
type Snapshot struct {
	Reference    TimeReference
	HasReference bool
	Attempts     AttemptTracker
	UTC          time.Time
	MaxError     time.Duration
	Status       Status
}

// Snapshot captures the reference, attempts, estimate and status under one
// lock. now is the wall time used for the status.
func (e *Estimator) Snapshot(now time.Time) Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Reference:    e.ref,
		HasReference: e.hasRef,
		Attempts:     e.attempts,
		Status:       Report(e.ref, e.hasRef, e.attempts, now),
	}
	snap.UTC, snap.MaxError = e.estimate(e.ref, e.hasRef)
	return snap
}

// Reference returns the current reference and whether one exists
func (e *Estimator) Reference() (TimeReference, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ref, e.hasRef
}

// Attempts returns the attempt history
func (e *Estimator) Attempts() AttemptTracker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attempts
}

// ApplyToSystemClock writes the current estimate to the host clock with
// millisecond resolution.
func (e *Estimator) ApplyToSystemClock() error {
	e.mu.RLock()
	ref, ok := e.ref, e.hasRef
	e.mu.RUnlock()
	if !ok {
		return ErrNoReference
	}

	utc, maxErr := e.estimate(ref, ok)
	utc = utc.Truncate(time.Millisecond)
	if err := e.wall.Set(utc); err != nil {
		return fmt.Errorf("failed to set system clock to %s: %w", utc.Format(time.RFC3339Nano), err)
	}

	logger.SafeInfo("timekeeper", "System clock updated", map[string]interface{}{
		"utc":          utc.Format(time.RFC3339Nano),
		"max_error_ms": maxErr.Milliseconds(),
	})
	return nil
}
