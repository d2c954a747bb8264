package mathutil

import "time"

// AbsFloat64 returns the absolute value of a float64
func AbsFloat64(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// AbsDuration returns the absolute value of a duration
func AbsDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
