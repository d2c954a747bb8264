package sysclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic(t *testing.T) {
	m := NewMonotonic()

	first, freq := m.Now()
	assert.Equal(t, int64(1_000_000_000), freq)
	assert.GreaterOrEqual(t, first, int64(0))

	time.Sleep(10 * time.Millisecond)
	second, _ := m.Now()
	assert.GreaterOrEqual(t, second-first, int64(10*time.Millisecond))
}

func TestSystemNow(t *testing.T) {
	now := System{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestKernelState_SyncStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int32
		state    int
		expected string
		synced   bool
	}{
		{"synchronized", 0, StateOK, "synchronized", true},
		{"with_pll", StatusPLL, StateOK, "synchronized", true},
		{"unsync", StatusUnsync, StateOK, "unsynchronized", false},
		{"unsync_wins", StatusPLL | StatusUnsync, StateError, "unsynchronized", false},
		{"clock_error", StatusClockErr, StateOK, "clock_error", true},
		{"leap_insert", StatusInsert, StateInsert, "leap_insert_pending", true},
		{"leap_delete", StatusDelete, StateDelete, "leap_delete_pending", true},
		{"leap_in_progress", 0, StateOOP, "leap_in_progress", true},
		{"leap_occurred", 0, StateWait, "leap_occurred", true},
		{"error", 0, StateError, "error", false},
		{"unknown", 0, 99, "unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &KernelState{Status: tt.status, State: tt.state}
			assert.Equal(t, tt.expected, k.SyncStatus())
			assert.Equal(t, tt.synced, k.IsSynchronized())
		})
	}
}

func TestKernelState_HasLeapSecond(t *testing.T) {
	assert.False(t, (&KernelState{}).HasLeapSecond())
	assert.True(t, (&KernelState{Status: StatusInsert}).HasLeapSecond())
	assert.True(t, (&KernelState{Status: StatusDelete}).HasLeapSecond())
	assert.False(t, (&KernelState{Status: StatusPLL | StatusPPSSignal}).HasLeapSecond())
}

func TestKernelState_FrequencyPPM(t *testing.T) {
	k := &KernelState{Frequency: -3 * 65536}
	assert.Equal(t, -3.0, k.FrequencyPPM())
}
