package timekeeper

import "time"

// NeverUpdatedAfter is how long after the first attempt a missing reference turns red
const NeverUpdatedAfter = 60 * time.Second

// Level is a qualitative accuracy indicator
type Level int

const (
	LevelUnknown Level = iota
	LevelRed
	LevelOrange
	LevelDarkAmber
	LevelGreen
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelRed:
		return "red"
	case LevelOrange:
		return "orange"
	case LevelDarkAmber:
		return "dark_amber"
	case LevelGreen:
		return "green"
	default:
		return "unknown"
	}
}

// Colour returns the display colour for the level as a hex RGB string
func (l Level) Colour() string {
	switch l {
	case LevelRed:
		return "#FF0000"
	case LevelOrange:
		return "#FF4500"
	case LevelDarkAmber:
		return "#B8860B"
	case LevelGreen:
		return "#008000"
	default:
		return ""
	}
}

// Status messages
const (
	MessageNeverUpdated = "NTP time has never been updated. Check your internet connection and NTP server settings."
	MessageOverOneSec   = "Current NTP time error is larger than 1 sec."
	MessageOver250ms    = "Current NTP time error is larger than 250 ms but smaller than 1 sec."
	MessageOver100ms    = "Current NTP time error is larger than 100 ms but smaller than 250 ms."
	MessageUnder100ms   = "Current NTP time error is smaller than 100 ms."
)

// Status is what a display widget shows for the estimator
type Status struct {
	Level   Level
	Message string
}

// LevelForError maps an error bound in milliseconds to a severity tier
func LevelForError(maxErrorMs int64) Status {
	switch {
	case maxErrorMs > 1000:
		return Status{Level: LevelRed, Message: MessageOverOneSec}
	case maxErrorMs > 250:
		return Status{Level: LevelOrange, Message: MessageOver250ms}
	case maxErrorMs > 100:
		return Status{Level: LevelDarkAmber, Message: MessageOver100ms}
	default:
		return Status{Level: LevelGreen, Message: MessageUnder100ms}
	}
}

// Report derives the status from a reference and attempt snapshot
func Report(ref TimeReference, hasRef bool, attempts AttemptTracker, now time.Time) Status {
	if hasRef {
		return LevelForError(ref.MaxErrorMs)
	}

	if attempts.FirstAttempt.IsZero() || now.Sub(attempts.FirstAttempt) <= NeverUpdatedAfter {
		return Status{Level: LevelUnknown}
	}

	return Status{Level: LevelRed, Message: MessageNeverUpdated}
}

// Status reports the estimator's current status at the given wall time
func (e *Estimator) Status(now time.Time) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Report(e.ref, e.hasRef, e.attempts, now)
}
