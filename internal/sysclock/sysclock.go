// Package sysclock provides the host clocks consumed by the estimator: a
// monotonic tick counter, the settable wall clock and a read-only view of
// the kernel discipline state.
package sysclock

import (
	"errors"
	"time"
)

// ErrUnsupported is returned on platforms without clock control
var ErrUnsupported = errors.New("operation not supported on this platform")

// Kernel status bits (struct timex.status)
const (
	StatusPLL       = 0x0001
	StatusInsert    = 0x0010
	StatusDelete    = 0x0020
	StatusUnsync    = 0x0040
	StatusPPSSignal = 0x0100
	StatusClockErr  = 0x1000
)

// Kernel clock states returned by adjtimex
const (
	StateOK     = 0
	StateInsert = 1
	StateDelete = 2
	StateOOP    = 3
	StateWait   = 4
	StateError  = 5
)

// Monotonic is a nanosecond tick counter anchored at construction
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a counter starting at zero
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns elapsed ticks and the tick frequency in Hz
func (m *Monotonic) Now() (int64, int64) {
	return time.Since(m.start).Nanoseconds(), int64(time.Second)
}

// System is the host wall clock
type System struct{}

// Now returns the current wall clock time in UTC
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Set steps the wall clock. It needs CAP_SYS_TIME on Linux.
func (System) Set(utc time.Time) error {
	return setTime(utc)
}

// KernelState is a snapshot of the kernel clock discipline
type KernelState struct {
	Offset    time.Duration
	Frequency int64 // scaled ppm, 65536 = 1 ppm
	MaxError  time.Duration
	EstError  time.Duration
	Status    int32
	State     int
	Precision time.Duration
	Tick      int64
}

// ReadKernel reads the kernel clock discipline without modifying it
func ReadKernel() (*KernelState, error) {
	return readKernel()
}

// IsSynchronized reports whether the kernel considers the clock synchronized
func (k *KernelState) IsSynchronized() bool {
	return k.Status&StatusUnsync == 0 && k.State != StateError
}

// HasLeapSecond reports a pending leap second
func (k *KernelState) HasLeapSecond() bool {
	return k.Status&(StatusInsert|StatusDelete) != 0
}

// FrequencyPPM returns the frequency offset in ppm
func (k *KernelState) FrequencyPPM() float64 {
	return float64(k.Frequency) / 65536.0
}

// SyncStatus returns a human-readable discipline state
func (k *KernelState) SyncStatus() string {
	if k.Status&StatusUnsync != 0 {
		return "unsynchronized"
	}
	if k.Status&StatusClockErr != 0 {
		return "clock_error"
	}

	switch k.State {
	case StateOK:
		return "synchronized"
	case StateInsert:
		return "leap_insert_pending"
	case StateDelete:
		return "leap_delete_pending"
	case StateOOP:
		return "leap_in_progress"
	case StateWait:
		return "leap_occurred"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
