// Package wire implements the binary codec for CW keying packets.
//
// Two formats are supported. Version 1 is the legacy 3-byte format carrying
// only a sequence number and key state. Version 2 is the 6-byte
// duration-encoded format; its data packets carry an explicit element
// duration plus forward-error-correction block coordinates, and its parity
// packets carry one Reed-Solomon parity symbol-group for a block of ten data
// packets.
//
// Version 2 layout:
//
//	data:   [0x02][sequence][key state][duration hi][duration lo][block<<4|position]
//	parity: [0x02][0xFE][block<<4|index][p0][p1][p2]
//
// The parity marker 0xFE occupies the sequence byte position, so 0xFE is a
// reserved sequence number that senders never assign. Decoding and encoding
// are pure functions with no I/O and no logging.
package wire
