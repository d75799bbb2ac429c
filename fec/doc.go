// Package fec implements forward error correction for CW keying blocks.
//
// Data packets are grouped into blocks of ten; each block is protected by
// three Reed-Solomon parity packets, so any three losses per block are
// recoverable. Engine wraps the Reed-Solomon arithmetic. Block accumulates
// the packets of one block as they arrive in any order. Tracker owns a fixed
// sixteen-slot arena of blocks keyed by the wire block id, classifies every
// incoming packet (new, duplicate, stale), and resolves each block exactly
// once, releasing its events as a unit when it completes, decodes, or
// expires.
//
// Tracker is not safe for concurrent use; it is owned by the single
// ingestion goroutine.
package fec
