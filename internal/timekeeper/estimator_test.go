package timekeeper

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSample_Derived(t *testing.T) {
	tests := []struct {
		name        string
		sample      TimeSample
		wantRTT     float64
		wantMaxErr  int64
		wantMidTick int64
		wantValid   bool
	}{
		{
			name:        "fifty_ms",
			sample:      TimeSample{SendTick: 1000, ReceiveTick: 51000, Frequency: testFrequency},
			wantRTT:     50,
			wantMaxErr:  50,
			wantMidTick: 26000,
			wantValid:   true,
		},
		{
			name:        "rounds_half_up",
			sample:      TimeSample{SendTick: 0, ReceiveTick: 1500, Frequency: testFrequency},
			wantRTT:     1.5,
			wantMaxErr:  2,
			wantMidTick: 1000,
			wantValid:   true,
		},
		{
			name:        "sub_half_millisecond_is_degenerate",
			sample:      TimeSample{SendTick: 0, ReceiveTick: 400, Frequency: testFrequency},
			wantRTT:     0.4,
			wantMaxErr:  0,
			wantMidTick: 0,
			wantValid:   false,
		},
		{
			name:        "zero_frequency",
			sample:      TimeSample{SendTick: 0, ReceiveTick: 400, Frequency: 0},
			wantRTT:     0,
			wantMaxErr:  0,
			wantMidTick: 0,
			wantValid:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantRTT, tt.sample.RoundTripMs(), 1e-9)
			assert.Equal(t, tt.wantMaxErr, tt.sample.MaxErrorMs())
			assert.Equal(t, tt.wantMidTick, tt.sample.MidpointTick())
			assert.Equal(t, tt.wantValid, tt.sample.Valid())
		})
	}
}

func TestEstimator_FirstSampleEstablishes(t *testing.T) {
	for _, rtt := range []int64{5, 400, 5000} {
		est, _, _ := newTestEstimator()

		outcome := est.Process(sampleAt(1_000_000, rtt, t0))

		assert.Equal(t, OutcomeEstablished, outcome)
		ref, ok := est.Reference()
		require.True(t, ok)
		assert.Equal(t, rtt, ref.MaxErrorMs)
		assert.Equal(t, int64(1_000_000), ref.Tick)
		assert.Equal(t, ref.Tick, ref.FirstTick)
		assert.Equal(t, t0, ref.FirstUTC)
	}
}

func TestEstimator_DegenerateSampleIgnored(t *testing.T) {
	est, _, _ := newTestEstimator()

	outcome := est.Process(TimeSample{SendTick: 10, ReceiveTick: 10, Frequency: testFrequency, ServerTime: t0})
	assert.Equal(t, OutcomeDiscarded, outcome)
	_, ok := est.Reference()
	assert.False(t, ok)

	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 80, t0)))
	before, _ := est.Reference()

	outcome = est.Process(TimeSample{SendTick: 500, ReceiveTick: 700, Frequency: testFrequency, ServerTime: t0.Add(time.Second)})
	assert.Equal(t, OutcomeDiscarded, outcome)
	after, _ := est.Reference()
	assert.Equal(t, before, after)
}

func TestEstimator_TighterBoundReplaces(t *testing.T) {
	est, _, _ := newTestEstimator()

	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 200, t0)))

	outcome := est.Process(sampleAt(5_000_000, 40, t0.Add(5*time.Second)))

	assert.Equal(t, OutcomeImproved, outcome)
	ref, _ := est.Reference()
	assert.Equal(t, int64(40), ref.MaxErrorMs)
	assert.Equal(t, int64(5_000_000), ref.Tick)
	assert.Equal(t, t0.Add(5*time.Second), ref.UTC)
	// first reference is retained
	assert.Equal(t, int64(0), ref.FirstTick)
	assert.Equal(t, t0, ref.FirstUTC)
}

func TestEstimator_LooserBoundKeptBeforeDriftWindow(t *testing.T) {
	est, _, _ := newTestEstimator()

	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 50, t0)))

	// 5 minutes later with a local clock that is 5 seconds off
	outcome := est.Process(sampleAt(305_000_000, 60, t0.Add(5*time.Minute)))

	assert.Equal(t, OutcomeKept, outcome)
	ref, _ := est.Reference()
	assert.Equal(t, int64(50), ref.MaxErrorMs)
	assert.Equal(t, t0, ref.UTC)
}

func TestEstimator_DriftCheck(t *testing.T) {
	tests := []struct {
		name     string
		skewTick int64
		want     Outcome
	}{
		{name: "no_skew", skewTick: 0, want: OutcomeKept},
		{name: "skew_below_tolerance", skewTick: 20_000, want: OutcomeKept},
		{name: "skew_above_tolerance", skewTick: 1_000_000, want: OutcomeDriftCorrected},
		{name: "negative_skew_above_tolerance", skewTick: -1_000_000, want: OutcomeDriftCorrected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, _, _ := newTestEstimator()
			require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 50, t0)))

			utc := t0.Add(15 * time.Minute)
			mid := int64(15*60)*testFrequency + tt.skewTick

			// 100ms bound: tolerance is 50ms
			outcome := est.Process(sampleAt(mid, 100, utc))

			assert.Equal(t, tt.want, outcome)
			ref, _ := est.Reference()
			if tt.want == OutcomeDriftCorrected {
				assert.Equal(t, utc, ref.UTC)
				assert.Equal(t, int64(100), ref.MaxErrorMs)
				assert.Equal(t, int64(0), ref.FirstTick)
			} else {
				assert.Equal(t, t0, ref.UTC)
				assert.Equal(t, int64(50), ref.MaxErrorMs)
			}
		})
	}
}

func TestEstimator_DriftScaledBySectionRatio(t *testing.T) {
	est, _, _ := newTestEstimator()
	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 50, t0)))

	// tighter sample at +10 minutes becomes the current reference
	require.Equal(t, OutcomeImproved, est.Process(sampleAt(600*testFrequency, 20, t0.Add(10*time.Minute))))

	// at +20 minutes the counter is 80ms ahead; the section ratio halves it to 40ms
	// which is below the 50ms tolerance of a 100ms sample
	outcome := est.Process(sampleAt(1200*testFrequency+80_000, 100, t0.Add(20*time.Minute)))
	assert.Equal(t, OutcomeKept, outcome)

	// 200ms ahead gives 100ms of scaled drift
	outcome = est.Process(sampleAt(1200*testFrequency+200_000, 100, t0.Add(20*time.Minute)))
	assert.Equal(t, OutcomeDriftCorrected, outcome)
}

func TestEstimator_FrequencyChangeRebases(t *testing.T) {
	est, _, _ := newTestEstimator()
	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(50_000_000, 30, t0)))

	s := TimeSample{
		SendTick:    900_000,
		ReceiveTick: 1_100_000,
		Frequency:   2 * testFrequency,
		ServerTime:  t0.Add(time.Hour),
	}
	outcome := est.Process(s)

	assert.Equal(t, OutcomeRebased, outcome)
	ref, _ := est.Reference()
	assert.Equal(t, int64(2*testFrequency), ref.Frequency)
	assert.Equal(t, int64(100), ref.MaxErrorMs)
	assert.Equal(t, s.MidpointTick(), ref.FirstTick)
	assert.Equal(t, t0.Add(time.Hour), ref.FirstUTC)
}

func TestEstimator_CounterResetRebases(t *testing.T) {
	est, _, _ := newTestEstimator()
	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(50_000_000, 30, t0)))

	outcome := est.Process(sampleAt(1_000, 300, t0.Add(2*time.Hour)))

	assert.Equal(t, OutcomeRebased, outcome)
	ref, _ := est.Reference()
	assert.Equal(t, int64(1_000), ref.FirstTick)
	assert.Equal(t, int64(300), ref.MaxErrorMs)
}

func TestEstimator_UtcNow(t *testing.T) {
	est, mono, _ := newTestEstimator()

	// send/receive symmetric around tick 0 with a 50ms round trip
	require.Equal(t, OutcomeEstablished, est.Process(TimeSample{
		SendTick:    -25_000,
		ReceiveTick: 25_000,
		Frequency:   testFrequency,
		ServerTime:  t0,
	}))

	mono.set(2_000_000)
	utc, maxErr := est.UtcNow()

	assert.Equal(t, t0.Add(2000*time.Millisecond), utc)
	assert.Equal(t, 50*time.Millisecond, maxErr)
}

func TestEstimator_UtcNowWithoutReference(t *testing.T) {
	est, _, wall := newTestEstimator()
	wall.advance(42 * time.Second)

	utc, maxErr := est.UtcNow()

	assert.Equal(t, t0.Add(42*time.Second), utc)
	assert.Equal(t, UnsetMaxError, maxErr)
	assert.Equal(t, 60*time.Second, maxErr)
}

func TestEstimator_RecordAttempt(t *testing.T) {
	est, _, wall := newTestEstimator()

	assert.True(t, est.Attempts().FirstAttempt.IsZero())

	est.RecordAttempt()
	wall.advance(time.Minute)
	est.RecordAttempt()

	attempts := est.Attempts()
	assert.Equal(t, int64(2), attempts.Attempts)
	assert.Equal(t, t0, attempts.FirstAttempt)
}

func TestEstimator_ApplyToSystemClock(t *testing.T) {
	est, mono, wall := newTestEstimator()

	err := est.ApplyToSystemClock()
	assert.ErrorIs(t, err, ErrNoReference)
	assert.Empty(t, wall.set)

	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 10, t0)))
	mono.set(1_234_567)

	require.NoError(t, est.ApplyToSystemClock())
	require.Len(t, wall.set, 1)
	assert.Equal(t, t0.Add(1234*time.Millisecond), wall.set[0])

	wall.setErr = errors.New("operation not permitted")
	err = est.ApplyToSystemClock()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
}

func TestEstimator_Snapshot(t *testing.T) {
	est, mono, wall := newTestEstimator()
	est.RecordAttempt()

	snap := est.Snapshot(t0)
	assert.False(t, snap.HasReference)
	assert.Equal(t, t0, snap.UTC)
	assert.Equal(t, UnsetMaxError, snap.MaxError)
	assert.Equal(t, LevelUnknown, snap.Status.Level)
	assert.Equal(t, int64(1), snap.Attempts.Attempts)

	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 80, t0)))
	mono.set(500_000)
	wall.advance(time.Hour)

	snap = est.Snapshot(wall.Now())
	require.True(t, snap.HasReference)
	assert.Equal(t, t0.Add(500*time.Millisecond), snap.UTC)
	assert.Equal(t, 80*time.Millisecond, snap.MaxError)
	assert.Equal(t, t0, snap.Reference.UTC)
	assert.Equal(t, LevelForError(80), snap.Status)
}

func TestEstimator_SnapshotConsistentUnderUpdates(t *testing.T) {
	est, _, _ := newTestEstimator()
	require.Equal(t, OutcomeEstablished, est.Process(sampleAt(0, 900, t0)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i < 200; i++ {
			est.Process(sampleAt(i*testFrequency, 900-4*i, t0.Add(time.Duration(i)*time.Second)))
		}
	}()

	for i := 0; i < 200; i++ {
		snap := est.Snapshot(t0)
		require.True(t, snap.HasReference)
		assert.Equal(t, time.Duration(snap.Reference.MaxErrorMs)*time.Millisecond, snap.MaxError)
		assert.Equal(t, LevelForError(snap.Reference.MaxErrorMs), snap.Status)
	}
	wg.Wait()
}

func TestEstimator_ConcurrentAccess(t *testing.T) {
	est, _, _ := newTestEstimator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			est.RecordAttempt()
			est.Process(sampleAt(int64(i)*testFrequency, int64(100-i), t0.Add(time.Duration(i)*time.Second)))
		}(i)
		go func() {
			defer wg.Done()
			est.UtcNow()
			est.Status(t0)
		}()
	}
	wg.Wait()

	_, ok := est.Reference()
	assert.True(t, ok)
	assert.Equal(t, int64(10), est.Attempts().Attempts)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "discarded", OutcomeDiscarded.String())
	assert.Equal(t, "established", OutcomeEstablished.String())
	assert.Equal(t, "rebased", OutcomeRebased.String())
	assert.Equal(t, "improved", OutcomeImproved.String())
	assert.Equal(t, "drift_corrected", OutcomeDriftCorrected.String())
	assert.Equal(t, "kept", OutcomeKept.String())
	assert.Equal(t, "unknown", Outcome(99).String())

	assert.True(t, OutcomeImproved.Updated())
	assert.False(t, OutcomeKept.Updated())
	assert.False(t, OutcomeDiscarded.Updated())
}
