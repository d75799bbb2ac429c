package fec

import (
	"time"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// Block accumulates the packets of one FEC block as they arrive off the
// network, in any order. The first data packet anchors the mapping from
// block position to transmission sequence number; parity packets carry no
// sequence, so recovered positions derive theirs from the anchor.
type Block struct {
	id        uint8
	firstSeen time.Time

	data   [wire.BlockSize]*wire.Payload
	parity [wire.ParityCount]*wire.Payload

	dataCount   int
	parityCount int

	anchored  bool
	anchorPos uint8
	anchorSeq uint8
}

// NewBlock creates an empty block. firstSeen starts the expiry clock.
func NewBlock(id uint8, firstSeen time.Time) *Block {
	return &Block{id: id, firstSeen: firstSeen}
}

// ID returns the wire block id.
func (b *Block) ID() uint8 {
	return b.id
}

// Age returns how long the block has been assembling.
func (b *Block) Age(now time.Time) time.Duration {
	return now.Sub(b.firstSeen)
}

// AddData stores a data packet's symbol-group. It returns false if the
// position was already filled; the first arrival wins.
func (b *Block) AddData(p wire.DataPacket) bool {
	if b.data[p.Position] != nil {
		return false
	}

	pl := p.Payload()
	b.data[p.Position] = &pl
	b.dataCount++

	if !b.anchored {
		b.anchored = true
		b.anchorPos = p.Position
		b.anchorSeq = p.Sequence
	}
	return true
}

// AddParity stores a parity packet's symbol-group. It returns false if the
// parity index was already filled.
func (b *Block) AddParity(p wire.ParityPacket) bool {
	if b.parity[p.Index] != nil {
		return false
	}

	pl := p.Data
	b.parity[p.Index] = &pl
	b.parityCount++
	return true
}

// Complete reports whether every data position arrived, making recovery
// unnecessary.
func (b *Block) Complete() bool {
	return b.dataCount == wire.BlockSize
}

// Decodable reports whether enough symbol-groups are present for
// Reed-Solomon recovery of the missing data positions.
func (b *Block) Decodable() bool {
	return b.dataCount+b.parityCount >= wire.BlockSize
}

// MissingPositions lists the data positions that have not arrived.
func (b *Block) MissingPositions() []int {
	missing := make([]int, 0, wire.BlockSize-b.dataCount)
	for pos, pl := range b.data {
		if pl == nil {
			missing = append(missing, pos)
		}
	}
	return missing
}

// SequenceAt derives the transmission sequence number of a position from
// the anchor. It must not be called before any data packet has arrived.
func (b *Block) SequenceAt(pos int) uint8 {
	return wire.SequenceAt(b.anchorSeq, pos-int(b.anchorPos))
}

// Shards lays the block out for the Reed-Solomon engine: data positions
// first, then parity, with nil marking each missing symbol-group. Present
// entries alias the block's storage.
func (b *Block) Shards() [][]byte {
	shards := make([][]byte, wire.BlockSize+wire.ParityCount)
	for pos, pl := range b.data {
		if pl != nil {
			shards[pos] = pl[:]
		}
	}
	for idx, pl := range b.parity {
		if pl != nil {
			shards[wire.BlockSize+idx] = pl[:]
		}
	}
	return shards
}
