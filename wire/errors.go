package wire

import "errors"

var (
	// ErrUnsupportedVersion indicates a packet whose version byte is neither
	// the legacy nor the duration-encoded format.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrMalformedPacket indicates a packet with a known version but an
	// invalid length or out-of-range field.
	ErrMalformedPacket = errors.New("malformed packet")
)
