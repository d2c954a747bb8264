package ntp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ntpEpoch is 1900-01-01 00:00:00 UTC
var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrShortPacket is returned when a response is smaller than PacketSize
var ErrShortPacket = errors.New("ntp response too short")

// NewRequest builds a client-mode request packet
func NewRequest() []byte {
	req := make([]byte, PacketSize)
	req[0] = ClientHeader
	return req
}

// DecodeTimestamp converts a 64-bit NTP timestamp to UTC, truncated to
// millisecond precision.
func DecodeTimestamp(seconds, fraction uint32) time.Time {
	ms := uint64(seconds)*1000 + (uint64(fraction)*1000)>>32
	return ntpEpoch.Add(time.Duration(ms) * time.Millisecond)
}

// EncodeTimestamp converts a UTC instant to a 64-bit NTP timestamp. The
// fraction is rounded up so that DecodeTimestamp reproduces the millisecond.
func EncodeTimestamp(t time.Time) (seconds, fraction uint32) {
	ms := t.Sub(ntpEpoch).Milliseconds()
	seconds = uint32(ms / 1000)
	frac := uint64(ms % 1000)
	fraction = uint32((frac<<32 + 999) / 1000)
	return seconds, fraction
}

// ParseTransmitTime extracts the server transmit timestamp from a response
func ParseTransmitTime(packet []byte) (time.Time, error) {
	if len(packet) < PacketSize {
		return time.Time{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortPacket, len(packet), PacketSize)
	}

	seconds := binary.BigEndian.Uint32(packet[TransmitTimestampOffset:])
	fraction := binary.BigEndian.Uint32(packet[TransmitTimestampOffset+4:])
	return DecodeTimestamp(seconds, fraction), nil
}

// PutTransmitTime writes t into the transmit timestamp field of a packet
func PutTransmitTime(packet []byte, t time.Time) {
	seconds, fraction := EncodeTimestamp(t)
	binary.BigEndian.PutUint32(packet[TransmitTimestampOffset:], seconds)
	binary.BigEndian.PutUint32(packet[TransmitTimestampOffset+4:], fraction)
}
