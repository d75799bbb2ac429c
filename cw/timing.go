package cw

import "time"

// Element timing follows the PARIS convention: the word "PARIS" spans 50 dit
// units, so at W words per minute one dit lasts 1200/W milliseconds. A dah is
// three dits; inter-element gaps are one dit, inter-character gaps three, and
// inter-word gaps seven.
const (
	ditUnitsPerMinute = 1200 * time.Millisecond

	// DahUnits is the dah length in dit units.
	DahUnits = 3

	// CharGapUnits is the inter-character gap in dit units.
	CharGapUnits = 3

	// WordGapUnits is the inter-word gap in dit units.
	WordGapUnits = 7
)

// DitDuration returns the length of one dit at the given speed. Speeds below
// one word per minute are clamped to one.
func DitDuration(wpm int) time.Duration {
	if wpm < 1 {
		wpm = 1
	}
	return ditUnitsPerMinute / time.Duration(wpm)
}

// DahDuration returns the length of one dah (three dits) at the given speed.
func DahDuration(wpm int) time.Duration {
	return DahUnits * DitDuration(wpm)
}
