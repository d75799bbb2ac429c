package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
)

// Decode parses one datagram into its packet variant. The version byte is
// checked first, then the exact length for that version, then field ranges.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedPacket)
	}

	switch data[0] {
	case VersionLegacy:
		return decodeLegacy(data)
	case VersionDuration:
		return decodeDuration(data)
	default:
		return nil, fmt.Errorf("%w: version byte 0x%02x", ErrUnsupportedVersion, data[0])
	}
}

func decodeLegacy(data []byte) (Packet, error) {
	if len(data) != LegacyPacketSize {
		return nil, fmt.Errorf("%w: legacy packet length %d, want %d", ErrMalformedPacket, len(data), LegacyPacketSize)
	}

	p := LegacyDataPacket{
		Sequence: data[1],
		State:    cw.KeyState(data[2]),
	}
	if !p.State.Valid() {
		return nil, fmt.Errorf("%w: key state byte 0x%02x", ErrMalformedPacket, data[2])
	}
	return p, nil
}

func decodeDuration(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return nil, fmt.Errorf("%w: packet length %d, want %d", ErrMalformedPacket, len(data), PacketSize)
	}

	if data[1] == ParityMarker {
		return decodeParity(data)
	}
	return decodeData(data)
}

func decodeData(data []byte) (Packet, error) {
	position := data[5] & 0x0F
	if position > MaxPosition {
		return nil, fmt.Errorf("%w: block position %d, max %d", ErrMalformedPacket, position, MaxPosition)
	}

	p := DataPacket{
		Sequence: data[1],
		State:    cw.KeyState(data[2]),
		Duration: time.Duration(binary.BigEndian.Uint16(data[3:5])) * time.Millisecond,
		BlockID:  data[5] >> 4,
		Position: position,
	}
	if !p.State.Valid() {
		return nil, fmt.Errorf("%w: key state byte 0x%02x", ErrMalformedPacket, data[2])
	}
	return p, nil
}

func decodeParity(data []byte) (Packet, error) {
	index := data[2] & 0x0F
	if index >= ParityCount {
		return nil, fmt.Errorf("%w: parity index %d, max %d", ErrMalformedPacket, index, ParityCount-1)
	}

	p := ParityPacket{
		BlockID: data[2] >> 4,
		Index:   index,
	}
	copy(p.Data[:], data[3:])
	return p, nil
}

// Encode serializes a packet variant into its wire form. Field ranges are
// validated so a malformed packet can never be emitted.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case DataPacket:
		return encodeData(v)
	case ParityPacket:
		return encodeParity(v)
	case LegacyDataPacket:
		return encodeLegacy(v)
	default:
		return nil, fmt.Errorf("%w: unknown packet variant %T", ErrMalformedPacket, p)
	}
}

func encodeData(p DataPacket) ([]byte, error) {
	if p.Sequence == ReservedSequence {
		return nil, fmt.Errorf("%w: sequence 0x%02x is reserved for parity packets", ErrMalformedPacket, ReservedSequence)
	}
	if !p.State.Valid() {
		return nil, fmt.Errorf("%w: key state %d", ErrMalformedPacket, p.State)
	}
	ms := p.Duration / time.Millisecond
	if ms < 0 || ms > MaxDurationMs {
		return nil, fmt.Errorf("%w: duration %s outside 0..%dms", ErrMalformedPacket, p.Duration, MaxDurationMs)
	}
	if p.BlockID > MaxBlockID {
		return nil, fmt.Errorf("%w: block id %d, max %d", ErrMalformedPacket, p.BlockID, MaxBlockID)
	}
	if p.Position > MaxPosition {
		return nil, fmt.Errorf("%w: block position %d, max %d", ErrMalformedPacket, p.Position, MaxPosition)
	}

	buf := make([]byte, PacketSize)
	buf[0] = VersionDuration
	buf[1] = p.Sequence
	buf[2] = byte(p.State)
	binary.BigEndian.PutUint16(buf[3:5], uint16(ms))
	buf[5] = p.BlockID<<4 | p.Position
	return buf, nil
}

func encodeParity(p ParityPacket) ([]byte, error) {
	if p.BlockID > MaxBlockID {
		return nil, fmt.Errorf("%w: block id %d, max %d", ErrMalformedPacket, p.BlockID, MaxBlockID)
	}
	if p.Index >= ParityCount {
		return nil, fmt.Errorf("%w: parity index %d, max %d", ErrMalformedPacket, p.Index, ParityCount-1)
	}

	buf := make([]byte, PacketSize)
	buf[0] = VersionDuration
	buf[1] = ParityMarker
	buf[2] = p.BlockID<<4 | p.Index
	copy(buf[3:], p.Data[:])
	return buf, nil
}

func encodeLegacy(p LegacyDataPacket) ([]byte, error) {
	if !p.State.Valid() {
		return nil, fmt.Errorf("%w: key state %d", ErrMalformedPacket, p.State)
	}

	buf := make([]byte, LegacyPacketSize)
	buf[0] = VersionLegacy
	buf[1] = p.Sequence
	buf[2] = byte(p.State)
	return buf, nil
}
