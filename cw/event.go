package cw

import (
	"fmt"
	"time"
)

// KeyState represents the position of the Morse key. The numeric values are
// the ones carried on the wire.
type KeyState uint8

const (
	// KeyUp indicates the key is released (no tone).
	KeyUp KeyState = 0

	// KeyDown indicates the key is pressed (tone active).
	KeyDown KeyState = 1
)

// String returns a human-readable name for the key state.
func (s KeyState) String() string {
	switch s {
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// Valid reports whether the state is one of the two defined key positions.
func (s KeyState) Valid() bool {
	return s == KeyUp || s == KeyDown
}

// Event is a single timed keying event. Version 2 events are released by
// the sequencer together when their FEC block resolves and carry the
// resolution instant as ArrivalTime; legacy events are built straight from
// the packet with its socket read time.
type Event struct {
	// State is the key position this event establishes.
	State KeyState

	// Duration is how long the state is held. Legacy (version 1) events
	// carry no duration and leave this zero.
	Duration time.Duration

	// Sequence is the transmission-order sequence number, wrapping modulo 256.
	Sequence uint8

	// ArrivalTime is when the event entered the receive pipeline.
	ArrivalTime time.Time
}

// String describes the event for logging.
func (e Event) String() string {
	return fmt.Sprintf("seq=%d key=%s dur=%s", e.Sequence, e.State, e.Duration)
}
