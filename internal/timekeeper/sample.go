package timekeeper

import "time"

// MonotonicClock reads a high-resolution counter that never goes backwards
// while the process runs. Frequency is in ticks per second.
type MonotonicClock interface {
	Now() (ticks int64, frequency int64)
}

// SystemClock reads and sets the host wall clock in UTC.
type SystemClock interface {
	Now() time.Time
	Set(utc time.Time) error
}

// TimeSample is the raw result of one request/response exchange
type TimeSample struct {
	SendTick    int64
	ReceiveTick int64
	Frequency   int64
	ServerTime  time.Time
}

// RoundTripMs returns the measured round trip in milliseconds
func (s TimeSample) RoundTripMs() float64 {
	if s.Frequency <= 0 {
		return 0
	}
	return float64(s.ReceiveTick-s.SendTick) * 1000.0 / float64(s.Frequency)
}

// MaxErrorMs returns the accuracy bound of the sample, the round trip
// rounded half up to whole milliseconds.
func (s TimeSample) MaxErrorMs() int64 {
	return int64(0.5 + s.RoundTripMs())
}

// MidpointTick is the local tick presumed to correspond to ServerTime
func (s TimeSample) MidpointTick() int64 {
	return s.SendTick + s.MaxErrorMs()*s.Frequency/1000/2
}

// Valid reports whether the sample carries a usable round trip
func (s TimeSample) Valid() bool {
	return s.Frequency > 0 && s.ReceiveTick >= s.SendTick && s.MaxErrorMs() > 0
}
