//go:build linux

package sysclock

import (
	"fmt"
	"time"

	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"golang.org/x/sys/unix"
)

func setTime(utc time.Time) error {
	tv := unix.NsecToTimeval(utc.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return fmt.Errorf("settimeofday: %w", err)
	}

	logger.SafeInfo("sysclock", "System clock set", map[string]interface{}{
		"utc": utc.Format(time.RFC3339Nano),
	})
	return nil
}

func readKernel() (*KernelState, error) {
	// Modes=0 makes adjtimex read-only
	var tx unix.Timex
	state, err := unix.Adjtimex(&tx)
	if err != nil {
		return nil, fmt.Errorf("adjtimex: %w", err)
	}

	unit := time.Microsecond
	if tx.Status&unix.STA_NANO != 0 {
		unit = time.Nanosecond
	}

	k := &KernelState{
		Offset:    time.Duration(tx.Offset) * unit,
		Frequency: int64(tx.Freq),
		MaxError:  time.Duration(tx.Maxerror) * time.Microsecond,
		EstError:  time.Duration(tx.Esterror) * time.Microsecond,
		Status:    tx.Status,
		State:     state,
		Precision: time.Duration(tx.Precision) * time.Microsecond,
		Tick:      int64(tx.Tick),
	}

	logger.SafeDebug("sysclock", "Kernel timex state read", map[string]interface{}{
		"offset_us": k.Offset.Microseconds(),
		"frequency": k.Frequency,
		"status":    k.SyncStatus(),
	})
	return k, nil
}
