package wire

// Sequence numbers wrap modulo 256 and never take the reserved value, so the
// usable sequence space has 255 members. These helpers step through that
// space; recovery uses them to derive the sequence of a missing block
// position from any received neighbor, including across the wrap.

// NextSequence returns the sequence number transmitted after s.
func NextSequence(s uint8) uint8 {
	s++
	if s == ReservedSequence {
		s++
	}
	return s
}

// PrevSequence returns the sequence number transmitted before s.
func PrevSequence(s uint8) uint8 {
	s--
	if s == ReservedSequence {
		s--
	}
	return s
}

// SequenceAt returns the sequence number steps positions after s; negative
// steps walk backwards. Steps are bounded by the block size in practice, so
// the walk is iterative.
func SequenceAt(s uint8, steps int) uint8 {
	for ; steps > 0; steps-- {
		s = NextSequence(s)
	}
	for ; steps < 0; steps++ {
		s = PrevSequence(s)
	}
	return s
}
