// Package jitter smooths network arrival jitter out of CW keying events.
//
// Events are queued in a skiplist ordered by playout instant, which is the
// arrival time plus a fixed buffer delay, with the transmission sequence
// number breaking ties. A dedicated scheduler goroutine sleeps until the
// earliest playout instant and hands due events to the sink; an insert that
// becomes the new head wakes the scheduler early, so a recovered event never
// waits behind a stale timer. Events older than the late threshold at
// enqueue time are dropped, never queued.
package jitter
