package wire

import (
	"encoding/binary"
	"time"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
)

const (
	// VersionLegacy identifies the 3-byte format without durations.
	VersionLegacy = 0x01

	// VersionDuration identifies the 6-byte duration-encoded format.
	VersionDuration = 0x02

	// ParityMarker occupies the sequence byte of parity packets. It doubles
	// as ReservedSequence: a data packet may never carry it.
	ParityMarker = 0xFE

	// ReservedSequence is the sequence value senders skip so that data and
	// parity packets stay distinguishable at byte offset 1.
	ReservedSequence = ParityMarker

	// LegacyPacketSize is the fixed size of a version 1 packet.
	LegacyPacketSize = 3

	// PacketSize is the fixed size of every version 2 packet.
	PacketSize = 6

	// BlockSize is the number of data packets protected by one FEC block.
	BlockSize = 10

	// ParityCount is the number of parity packets emitted per FEC block.
	ParityCount = 3

	// PayloadSize is the size of the symbol-group the FEC code operates on:
	// key state plus the two duration bytes.
	PayloadSize = 3

	// MaxBlockID is the largest block identifier; block ids occupy a nibble
	// and cycle 0..15.
	MaxBlockID = 15

	// MaxPosition is the largest data position within a block.
	MaxPosition = BlockSize - 1

	// MaxDurationMs is the largest element duration the wire can carry.
	MaxDurationMs = 0xFFFF
)

// Packet is the decoded form of one datagram. Concrete types are DataPacket,
// ParityPacket, and LegacyDataPacket; the interface is sealed so a type
// switch over those three is exhaustive.
type Packet interface {
	isPacket()
}

// DataPacket is a version 2 data packet: one keying event with its FEC block
// coordinates.
type DataPacket struct {
	Sequence uint8
	State    cw.KeyState
	Duration time.Duration
	BlockID  uint8
	Position uint8
}

func (DataPacket) isPacket() {}

// Payload returns the 3-byte symbol-group the FEC code protects for this
// packet: key state followed by the big-endian duration in milliseconds.
func (p DataPacket) Payload() Payload {
	var pl Payload
	pl[0] = byte(p.State)
	binary.BigEndian.PutUint16(pl[1:], uint16(p.Duration/time.Millisecond))
	return pl
}

// Event converts the packet to a keying event with the given arrival time.
func (p DataPacket) Event(arrival time.Time) cw.Event {
	return cw.Event{
		State:       p.State,
		Duration:    p.Duration,
		Sequence:    p.Sequence,
		ArrivalTime: arrival,
	}
}

// ParityPacket is a version 2 parity packet: one Reed-Solomon parity
// symbol-group for a block.
type ParityPacket struct {
	BlockID uint8
	Index   uint8
	Data    Payload
}

func (ParityPacket) isPacket() {}

// LegacyDataPacket is a version 1 packet. It carries no duration; timing is
// implied by packet spacing.
type LegacyDataPacket struct {
	Sequence uint8
	State    cw.KeyState
}

func (LegacyDataPacket) isPacket() {}

// Event converts the legacy packet to a keying event with zero duration.
func (p LegacyDataPacket) Event(arrival time.Time) cw.Event {
	return cw.Event{
		State:       p.State,
		Sequence:    p.Sequence,
		ArrivalTime: arrival,
	}
}

// Payload is the symbol-group the FEC code operates on. For data packets it
// holds {key state, duration hi, duration lo}; for parity packets it holds
// opaque parity bytes.
type Payload [PayloadSize]byte

// PayloadFromBytes copies a reconstructed shard into a Payload. The slice
// must be exactly PayloadSize long.
func PayloadFromBytes(b []byte) (Payload, error) {
	var pl Payload
	if len(b) != PayloadSize {
		return pl, ErrMalformedPacket
	}
	copy(pl[:], b)
	return pl, nil
}

// State returns the key state byte of a data symbol-group.
func (pl Payload) State() cw.KeyState {
	return cw.KeyState(pl[0])
}

// Duration returns the element duration of a data symbol-group.
func (pl Payload) Duration() time.Duration {
	return time.Duration(binary.BigEndian.Uint16(pl[1:])) * time.Millisecond
}

// Event builds the keying event a recovered data symbol-group represents.
// The key state byte must be valid; recovery of a corrupted block surfaces
// here rather than producing an impossible event.
func (pl Payload) Event(sequence uint8, arrival time.Time) (cw.Event, error) {
	if !pl.State().Valid() {
		return cw.Event{}, ErrMalformedPacket
	}
	return cw.Event{
		State:       pl.State(),
		Duration:    pl.Duration(),
		Sequence:    sequence,
		ArrivalTime: arrival,
	}, nil
}
