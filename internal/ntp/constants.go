package ntp

import "time"

// Wire format constants
const (
	// Port is the UDP port assigned to NTP
	Port = 123

	// PacketSize is the size of a request or response without extensions
	PacketSize = 48

	// ClientHeader encodes LI = 0, VN = 3, Mode = 3 (client)
	ClientHeader = 0x1B

	// TransmitTimestampOffset is the byte offset of the server transmit timestamp
	TransmitTimestampOffset = 40
)

// Exchange behavior constants
const (
	// DefaultTimeout bounds how long a sample waits for the server reply
	DefaultTimeout = 3 * time.Second

	// DefaultProbeTimeout is the timeout for cross-check probes
	DefaultProbeTimeout = 5 * time.Second
)

// Probe validation thresholds
const (
	// MaxAcceptableRTT is the maximum acceptable probe round-trip time
	MaxAcceptableRTT = 10 * time.Second

	// SuspiciousOffsetThreshold is the threshold for suspicious probe offsets
	SuspiciousOffsetThreshold = 3600 * time.Second

	// MaxValidStratum is the maximum valid stratum value
	MaxValidStratum = 15
)
