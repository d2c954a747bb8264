//go:build !linux

package sysclock

import "time"

func setTime(time.Time) error {
	return ErrUnsupported
}

func readKernel() (*KernelState, error) {
	return nil, ErrUnsupported
}
