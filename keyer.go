package cwprotocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/fec"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// ErrInvalidKeyEvent indicates a keying event outside what the wire format
// can carry.
var ErrInvalidKeyEvent = errors.New("invalid key event")

// PacketWriter sends one encoded packet toward the remote receiver.
// transport.UDPSender satisfies it; tests substitute lossy writers.
type PacketWriter interface {
	Send(wire.Packet) error
}

// Keyer is the sending side of the pipeline. Each key transition goes out
// immediately as a data packet; after every tenth the keyer computes and
// sends the block's three parity packets, then rotates to the next block
// id. Sequence numbers advance modulo 256 skipping the reserved value.
//
// A Keyer is not safe for concurrent use; drive it from one goroutine.
type Keyer struct {
	engine *fec.Engine
	out    PacketWriter

	nextSeq uint8
	blockID uint8
	pending []wire.DataPacket
}

// NewKeyer creates a keyer writing to out.
func NewKeyer(out PacketWriter) (*Keyer, error) {
	engine, err := fec.NewEngine(wire.BlockSize, wire.ParityCount)
	if err != nil {
		return nil, err
	}
	return &Keyer{
		engine:  engine,
		out:     out,
		pending: make([]wire.DataPacket, 0, wire.BlockSize),
	}, nil
}

// Key transmits one key transition with its element duration. Completing a
// block also transmits the block's parity.
func (k *Keyer) Key(state cw.KeyState, duration time.Duration) error {
	if !state.Valid() {
		return fmt.Errorf("%w: key state %d", ErrInvalidKeyEvent, state)
	}
	if duration < 0 || duration > wire.MaxDurationMs*time.Millisecond {
		return fmt.Errorf("%w: duration %s out of range", ErrInvalidKeyEvent, duration)
	}

	pkt := wire.DataPacket{
		Sequence: k.nextSeq,
		State:    state,
		Duration: duration,
		BlockID:  k.blockID,
		Position: uint8(len(k.pending)),
	}
	if err := k.out.Send(pkt); err != nil {
		return err
	}

	k.nextSeq = wire.NextSequence(k.nextSeq)
	k.pending = append(k.pending, pkt)

	if len(k.pending) == wire.BlockSize {
		return k.emitParity()
	}
	return nil
}

// Flush pads the open block with zero-duration key-up events until its
// parity goes out. A receiver then sees a complete block instead of
// waiting out the assembly timeout and counting the tail as lost. Flushing
// with no pending events is a no-op.
func (k *Keyer) Flush() error {
	for len(k.pending) > 0 {
		if err := k.Key(cw.KeyUp, 0); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns how many data packets the open block holds.
func (k *Keyer) Pending() int {
	return len(k.pending)
}

// emitParity computes and sends the parity packets for the pending block.
// Block state advances before the sends, so a transport error cannot leave
// the keyer wedged on a half-emitted block.
func (k *Keyer) emitParity() error {
	payloads := lo.Map(k.pending, func(p wire.DataPacket, _ int) []byte {
		pl := p.Payload()
		return pl[:]
	})

	shards, err := k.engine.Parity(payloads)
	if err != nil {
		return err
	}

	blockID := k.blockID
	k.pending = k.pending[:0]
	k.blockID = (k.blockID + 1) & wire.MaxBlockID

	for idx, shard := range shards {
		pl, err := wire.PayloadFromBytes(shard)
		if err != nil {
			return err
		}
		p := wire.ParityPacket{BlockID: blockID, Index: uint8(idx), Data: pl}
		if err := k.out.Send(p); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"block_id": blockID,
	}).Debug("Parity block emitted")
	return nil
}
