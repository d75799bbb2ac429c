package fec

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// Tracker sequences incoming packets into FEC blocks and drives recovery.
//
// It keeps a fixed arena of sixteen slots, one per wire block id. A slot is
// empty, assembling an open block, or holding a tombstone for a recently
// closed block. Tombstones absorb stragglers for a closed block until the
// reuse TTL passes, after which the id is free for a new incarnation.
//
// Events leave the tracker per block, not per packet: a block resolves when
// it completes, becomes decodable, or expires, and all its available events
// are released together carrying the resolution instant as arrival time.
// Within a block the rhythm lives in the event durations, so batch release
// costs nothing, and it lets the playout order follow the transmission
// order exactly even when some events exist only through recovery.
//
// All methods must be called from the ingestion goroutine, except Drain,
// which is the shutdown path and runs after that goroutine has exited.
type Tracker struct {
	engine       *Engine
	collector    *stats.Collector
	blockTimeout time.Duration
	reuseTTL     time.Duration

	slots [wire.MaxBlockID + 1]trackerSlot
}

type trackerSlot struct {
	block    *Block
	closed   bool
	closedAt time.Time
}

// NewTracker creates a tracker. blockTimeout bounds how long an open block
// may assemble before it is resolved with whatever arrived; reuseTTL is how
// long a closed block id keeps absorbing stragglers.
func NewTracker(engine *Engine, blockTimeout, reuseTTL time.Duration, collector *stats.Collector) *Tracker {
	return &Tracker{
		engine:       engine,
		collector:    collector,
		blockTimeout: blockTimeout,
		reuseTTL:     reuseTTL,
	}
}

// IngestData processes one data packet. It returns the block's events if
// this packet resolved the block, nil otherwise.
func (t *Tracker) IngestData(p wire.DataPacket, now time.Time) []cw.Event {
	s := &t.slots[p.BlockID]
	if s.closed {
		t.collector.CountDuplicate()
		logrus.WithFields(logrus.Fields{
			"block_id": p.BlockID,
			"position": p.Position,
			"sequence": p.Sequence,
		}).Debug("Data packet for closed block discarded")
		return nil
	}

	if s.block == nil {
		s.block = NewBlock(p.BlockID, now)
	}
	if !s.block.AddData(p) {
		t.collector.CountDuplicate()
		logrus.WithFields(logrus.Fields{
			"block_id": p.BlockID,
			"position": p.Position,
			"sequence": p.Sequence,
		}).Debug("Duplicate data packet discarded")
		return nil
	}

	return t.resolveIfReady(s, now)
}

// IngestParity processes one parity packet. It returns the block's events
// if this packet made the block decodable, nil otherwise.
func (t *Tracker) IngestParity(p wire.ParityPacket, now time.Time) []cw.Event {
	s := &t.slots[p.BlockID]
	if s.closed {
		// Parity trailing a block that already closed complete is normal,
		// not an anomaly, so it is dropped without a duplicate count.
		logrus.WithFields(logrus.Fields{
			"block_id":     p.BlockID,
			"parity_index": p.Index,
		}).Debug("Parity packet for closed block discarded")
		return nil
	}

	if s.block == nil {
		s.block = NewBlock(p.BlockID, now)
	}
	if !s.block.AddParity(p) {
		t.collector.CountDuplicate()
		logrus.WithFields(logrus.Fields{
			"block_id":     p.BlockID,
			"parity_index": p.Index,
		}).Debug("Duplicate parity packet discarded")
		return nil
	}

	return t.resolveIfReady(s, now)
}

// Sweep resolves open blocks past the assembly timeout, forwarding what
// they collected, and reaps tombstones past the reuse TTL. It is driven by
// the receive loop on its idle ticks and between packets, so expiry
// advances even without traffic. Any released events are returned.
func (t *Tracker) Sweep(now time.Time) []cw.Event {
	var events []cw.Event
	for i := range t.slots {
		s := &t.slots[i]
		switch {
		case s.closed:
			if now.Sub(s.closedAt) >= t.reuseTTL {
				s.closed = false
				s.closedAt = time.Time{}
			}
		case s.block != nil:
			if s.block.Age(now) >= t.blockTimeout {
				events = append(events, t.expire(s, now)...)
			}
		}
	}
	return events
}

// Drain force-closes every open block and empties the arena, tombstones
// included. Missing positions are counted lost exactly as on expiry; the
// events still held are returned so the caller can account them. Called
// once, at shutdown, after ingestion has stopped.
func (t *Tracker) Drain(now time.Time) []cw.Event {
	var events []cw.Event
	for i := range t.slots {
		s := &t.slots[i]
		if s.block != nil {
			events = append(events, t.expire(s, now)...)
		}
		*s = trackerSlot{}
	}
	return events
}

// OpenBlocks returns the number of blocks currently assembling.
func (t *Tracker) OpenBlocks() int {
	n := 0
	for i := range t.slots {
		if !t.slots[i].closed && t.slots[i].block != nil {
			n++
		}
	}
	return n
}

// resolveIfReady closes a complete block without touching the FEC engine,
// or recovers and closes a decodable one. A block resolves at most once;
// afterwards the slot is a tombstone.
func (t *Tracker) resolveIfReady(s *trackerSlot, now time.Time) []cw.Event {
	b := s.block
	switch {
	case b.Complete():
		events := t.materialize(b, nil, now)
		t.closeSlot(s, now)
		logrus.WithFields(logrus.Fields{
			"block_id": b.ID(),
		}).Debug("Block complete")
		return events
	case b.Decodable():
		events := t.recoverAndMaterialize(b, now)
		t.closeSlot(s, now)
		return events
	default:
		return nil
	}
}

// recoverAndMaterialize reconstructs the missing data positions of a
// decodable block and releases the whole block. Recovery failure is not
// expected behind the Decodable guard; if it happens the received
// positions are still forwarded and the missing ones counted lost.
func (t *Tracker) recoverAndMaterialize(b *Block, now time.Time) []cw.Event {
	missing := b.MissingPositions()
	shards := b.Shards()

	if err := t.engine.Reconstruct(shards); err != nil {
		logrus.WithFields(logrus.Fields{
			"block_id": b.ID(),
			"missing":  len(missing),
			"error":    err.Error(),
		}).Error("Block recovery failed")
		t.collector.CountLost(len(missing))
		return t.materialize(b, nil, now)
	}

	events := t.materialize(b, shards, now)

	recovered := len(events) - (wire.BlockSize - len(missing))
	if recovered > 0 {
		t.collector.CountRecovered(recovered)
	}
	if lost := wire.BlockSize - len(events); lost > 0 {
		t.collector.CountLost(lost)
	}

	logrus.WithFields(logrus.Fields{
		"block_id":  b.ID(),
		"recovered": recovered,
		"positions": missing,
	}).Debug("Block recovered")
	return events
}

// expire resolves an open block whose assembly timed out: the positions
// that arrived are forwarded, the rest are declared lost.
func (t *Tracker) expire(s *trackerSlot, now time.Time) []cw.Event {
	b := s.block
	missing := b.MissingPositions()
	t.collector.CountLost(len(missing))

	logrus.WithFields(logrus.Fields{
		"block_id": b.ID(),
		"age":      b.Age(now).String(),
		"missing":  len(missing),
	}).Warn("Block expired before recovery")

	events := t.materialize(b, nil, now)
	t.closeSlot(s, now)
	return events
}

// materialize builds the block's events in position order. Received
// positions come from their stored symbol-groups; when recovery ran, the
// reconstructed shards fill the rest. Consecutive positions are staggered
// one microsecond apart from the resolution instant so the playout order
// preserves the transmission order even when the block's sequence numbers
// wrap.
func (t *Tracker) materialize(b *Block, shards [][]byte, now time.Time) []cw.Event {
	events := make([]cw.Event, 0, wire.BlockSize)
	for pos := 0; pos < wire.BlockSize; pos++ {
		var pl wire.Payload
		switch {
		case b.data[pos] != nil:
			pl = *b.data[pos]
		case shards != nil && len(shards[pos]) == wire.PayloadSize:
			copy(pl[:], shards[pos])
		default:
			continue
		}

		arrival := now.Add(time.Duration(pos) * time.Microsecond)
		ev, err := pl.Event(b.SequenceAt(pos), arrival)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"block_id": b.ID(),
				"position": pos,
			}).Warn("Recovered symbol-group has invalid key state")
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (t *Tracker) closeSlot(s *trackerSlot, now time.Time) {
	s.block = nil
	s.closed = true
	s.closedAt = now
}
