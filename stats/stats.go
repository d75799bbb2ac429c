// Package stats collects receive-pipeline counters. Counters are updated
// with atomic operations so the ingestion and playout goroutines can write
// and any goroutine can read a consistent snapshot without locking.
package stats

import "sync/atomic"

// Collector accumulates pipeline counters. The zero value is not usable;
// create one with NewCollector.
type Collector struct {
	packetsReceived    atomic.Uint64
	fecPacketsReceived atomic.Uint64
	packetsRecovered   atomic.Uint64
	packetsLost        atomic.Uint64
	duplicates         atomic.Uint64
	lateDrops          atomic.Uint64
	malformed          atomic.Uint64
	discarded          atomic.Uint64
	bufferDepth        atomic.Int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// CountPacket records one data packet read off the network.
func (c *Collector) CountPacket() {
	c.packetsReceived.Add(1)
}

// CountFecPacket records one parity packet read off the network.
func (c *Collector) CountFecPacket() {
	c.fecPacketsReceived.Add(1)
}

// CountRecovered records n events materialized through FEC recovery.
func (c *Collector) CountRecovered(n int) {
	c.packetsRecovered.Add(uint64(n))
}

// CountLost records n block positions given up as unrecoverable.
func (c *Collector) CountLost(n int) {
	c.packetsLost.Add(uint64(n))
}

// CountDuplicate records a packet discarded because its block position was
// already resolved: a repeated packet, or a data straggler for a closed
// block.
func (c *Collector) CountDuplicate() {
	c.duplicates.Add(1)
}

// CountLateDrop records an event dropped for arriving beyond the late
// threshold.
func (c *Collector) CountLateDrop() {
	c.lateDrops.Add(1)
}

// CountMalformed records a datagram the codec rejected.
func (c *Collector) CountMalformed() {
	c.malformed.Add(1)
}

// CountDiscarded records n queued events thrown away during shutdown.
func (c *Collector) CountDiscarded(n int) {
	c.discarded.Add(uint64(n))
}

// SetBufferDepth records the current jitter buffer depth.
func (c *Collector) SetBufferDepth(n int) {
	c.bufferDepth.Store(int64(n))
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	PacketsReceived    uint64
	FecPacketsReceived uint64
	PacketsRecovered   uint64
	PacketsLost        uint64
	Duplicates         uint64
	LateDrops          uint64
	Malformed          uint64
	Discarded          uint64
	BufferDepth        int
}

// Snapshot returns a copy of the current counter values. Each counter is
// read atomically; the set as a whole is not a single atomic read, which is
// fine for reporting.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		PacketsReceived:    c.packetsReceived.Load(),
		FecPacketsReceived: c.fecPacketsReceived.Load(),
		PacketsRecovered:   c.packetsRecovered.Load(),
		PacketsLost:        c.packetsLost.Load(),
		Duplicates:         c.duplicates.Load(),
		LateDrops:          c.lateDrops.Load(),
		Malformed:          c.malformed.Load(),
		Discarded:          c.discarded.Load(),
		BufferDepth:        int(c.bufferDepth.Load()),
	}
}
