package fec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

const (
	testBlockTimeout = 2 * time.Second
	testReuseTTL     = 2 * time.Second
)

var trackerEpoch = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T) (*Tracker, *stats.Collector) {
	t.Helper()
	collector := stats.NewCollector()
	tracker := NewTracker(newTestEngine(t), testBlockTimeout, testReuseTTL, collector)
	return tracker, collector
}

// buildBlockPackets constructs a full block the way a sender would: ten data
// packets with consecutive sequences and the three parity packets computed
// over their symbol-groups.
func buildBlockPackets(t *testing.T, blockID, baseSeq uint8) ([]wire.DataPacket, []wire.ParityPacket) {
	t.Helper()

	data := make([]wire.DataPacket, wire.BlockSize)
	payloads := make([][]byte, wire.BlockSize)
	for pos := range data {
		state := cw.KeyDown
		duration := 60 * time.Millisecond
		if pos%2 == 1 {
			state = cw.KeyUp
			duration = 180 * time.Millisecond
		}
		data[pos] = wire.DataPacket{
			Sequence: wire.SequenceAt(baseSeq, pos),
			State:    state,
			Duration: duration,
			BlockID:  blockID,
			Position: uint8(pos),
		}
		pl := data[pos].Payload()
		payloads[pos] = pl[:]
	}

	parityShards, err := newTestEngine(t).Parity(payloads)
	require.NoError(t, err)

	parity := make([]wire.ParityPacket, wire.ParityCount)
	for idx := range parity {
		pl, err := wire.PayloadFromBytes(parityShards[idx])
		require.NoError(t, err)
		parity[idx] = wire.ParityPacket{BlockID: blockID, Index: uint8(idx), Data: pl}
	}
	return data, parity
}

// wantBlockEvents is the batch a resolved block releases: the listed
// positions in order, arrival times staggered a microsecond per position
// from the resolution instant.
func wantBlockEvents(data []wire.DataPacket, resolved time.Time, positions ...int) []cw.Event {
	events := make([]cw.Event, 0, len(positions))
	for _, pos := range positions {
		arrival := resolved.Add(time.Duration(pos) * time.Microsecond)
		events = append(events, data[pos].Event(arrival))
	}
	return events
}

func allPositions() []int {
	positions := make([]int, wire.BlockSize)
	for i := range positions {
		positions[i] = i
	}
	return positions
}

func TestTrackerHoldsDataUntilBlockResolves(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, _ := buildBlockPackets(t, 0, 0)

	for pos := 0; pos < wire.BlockSize-1; pos++ {
		events := tracker.IngestData(data[pos], trackerEpoch.Add(time.Duration(pos)*time.Millisecond))
		assert.Empty(t, events, "position %d released before the block resolved", pos)
	}

	assert.Equal(t, 1, tracker.OpenBlocks())
	assert.Equal(t, uint64(0), collector.Snapshot().PacketsRecovered)
}

func TestTrackerDuplicateDataDiscarded(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, _ := buildBlockPackets(t, 0, 0)

	require.Empty(t, tracker.IngestData(data[3], trackerEpoch))
	require.Empty(t, tracker.IngestData(data[3], trackerEpoch.Add(5*time.Millisecond)))

	assert.Equal(t, uint64(1), collector.Snapshot().Duplicates)
	assert.Equal(t, 1, tracker.OpenBlocks())
}

func TestTrackerCompleteBlockReleasesInOrder(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, parity := buildBlockPackets(t, 4, 40)

	for pos := 0; pos < wire.BlockSize-1; pos++ {
		require.Empty(t, tracker.IngestData(data[pos], trackerEpoch.Add(time.Duration(pos)*time.Millisecond)))
	}

	resolveTime := trackerEpoch.Add(20 * time.Millisecond)
	events := tracker.IngestData(data[wire.BlockSize-1], resolveTime)

	assert.Equal(t, wantBlockEvents(data, resolveTime, allPositions()...), events)
	assert.Equal(t, uint64(0), collector.Snapshot().PacketsRecovered)
	assert.Equal(t, 0, tracker.OpenBlocks())

	// Parity trailing a complete block is routine and not counted as a
	// duplicate.
	for _, p := range parity {
		assert.Empty(t, tracker.IngestParity(p, resolveTime.Add(time.Millisecond)))
	}
	assert.Equal(t, uint64(0), collector.Snapshot().Duplicates)

	// A data straggler for the closed block is.
	late := tracker.IngestData(data[0], resolveTime.Add(time.Second))
	assert.Empty(t, late)
	assert.Equal(t, uint64(1), collector.Snapshot().Duplicates)
}

func TestTrackerRecoversMissingPositions(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, parity := buildBlockPackets(t, 0, 0)

	dropped := map[uint8]bool{2: true, 5: true, 8: true}
	now := trackerEpoch
	for _, pkt := range data {
		if dropped[pkt.Position] {
			continue
		}
		now = now.Add(time.Millisecond)
		require.Empty(t, tracker.IngestData(pkt, now))
	}

	now = now.Add(time.Millisecond)
	require.Empty(t, tracker.IngestParity(parity[0], now))
	now = now.Add(time.Millisecond)
	require.Empty(t, tracker.IngestParity(parity[1], now))

	recoveryTime := now.Add(time.Millisecond)
	events := tracker.IngestParity(parity[2], recoveryTime)

	// The recovered positions slot back into the batch exactly where they
	// were transmitted.
	assert.Equal(t, wantBlockEvents(data, recoveryTime, allPositions()...), events)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(3), snap.PacketsRecovered)
	assert.Equal(t, uint64(0), snap.PacketsLost)
	assert.Equal(t, 0, tracker.OpenBlocks())
}

func TestTrackerParityFirstArrival(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, parity := buildBlockPackets(t, 7, 70)

	now := trackerEpoch
	for _, p := range parity {
		now = now.Add(time.Millisecond)
		require.Empty(t, tracker.IngestParity(p, now))
	}

	// Positions 0..6 arrive; 7, 8, 9 never do. The seventh data packet
	// makes the block decodable and releases everything.
	for pos := uint8(0); pos < 6; pos++ {
		now = now.Add(time.Millisecond)
		require.Empty(t, tracker.IngestData(data[pos], now))
	}

	resolveTime := now.Add(time.Millisecond)
	events := tracker.IngestData(data[6], resolveTime)

	assert.Equal(t, wantBlockEvents(data, resolveTime, allPositions()...), events)
	assert.Equal(t, uint64(3), collector.Snapshot().PacketsRecovered)
}

func TestTrackerRecoveryDerivesSequencesAcrossWrap(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// Base sequence 250: the block spans the reserved value 0xFE and the
	// wrap to zero. Positions 4 and 5 carry sequences 255 and 0.
	data, parity := buildBlockPackets(t, 9, 250)
	require.Equal(t, uint8(255), data[4].Sequence)
	require.Equal(t, uint8(0), data[5].Sequence)

	now := trackerEpoch
	for _, pkt := range data {
		if pkt.Position == 4 || pkt.Position == 5 {
			continue
		}
		now = now.Add(time.Millisecond)
		require.Empty(t, tracker.IngestData(pkt, now))
	}
	now = now.Add(time.Millisecond)
	require.Empty(t, tracker.IngestParity(parity[0], now))

	recoveryTime := now.Add(time.Millisecond)
	events := tracker.IngestParity(parity[1], recoveryTime)
	require.Len(t, events, wire.BlockSize)

	assert.Equal(t, uint8(255), events[4].Sequence)
	assert.Equal(t, uint8(0), events[5].Sequence)

	// The wrapped sequence plays after 255, not before it: arrival times
	// within the batch increase with transmission position.
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].ArrivalTime.Before(events[i].ArrivalTime),
			"position %d does not play after position %d", i, i-1)
	}
}

func TestTrackerSweepExpiresStaleBlock(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, _ := buildBlockPackets(t, 2, 20)

	for pos := uint8(0); pos < 5; pos++ {
		require.Empty(t, tracker.IngestData(data[pos], trackerEpoch))
	}

	// Young blocks survive a sweep.
	assert.Empty(t, tracker.Sweep(trackerEpoch.Add(time.Second)))
	assert.Equal(t, 1, tracker.OpenBlocks())
	assert.Equal(t, uint64(0), collector.Snapshot().PacketsLost)

	// Past the assembly timeout the block is force-resolved: what arrived
	// is released, the five missing positions are lost.
	expiry := trackerEpoch.Add(testBlockTimeout)
	events := tracker.Sweep(expiry)
	assert.Equal(t, wantBlockEvents(data, expiry, 0, 1, 2, 3, 4), events)
	assert.Equal(t, 0, tracker.OpenBlocks())
	assert.Equal(t, uint64(5), collector.Snapshot().PacketsLost)

	// Stragglers hit the tombstone.
	assert.Empty(t, tracker.IngestData(data[6], expiry.Add(time.Millisecond)))
	assert.Equal(t, uint64(1), collector.Snapshot().Duplicates)

	// After the reuse TTL the id serves a fresh incarnation.
	tracker.Sweep(expiry.Add(testReuseTTL))
	require.Empty(t, tracker.IngestData(data[0], expiry.Add(testReuseTTL+time.Millisecond)))
	assert.Equal(t, 1, tracker.OpenBlocks())
}

func TestTrackerParityOnlyBlockExpiresLost(t *testing.T) {
	tracker, collector := newTestTracker(t)
	_, parity := buildBlockPackets(t, 11, 110)

	for _, p := range parity {
		require.Empty(t, tracker.IngestParity(p, trackerEpoch))
	}
	require.Equal(t, 1, tracker.OpenBlocks())

	// No data packet ever arrived, so there is no sequence anchor and
	// nothing to release; all ten positions are lost.
	events := tracker.Sweep(trackerEpoch.Add(testBlockTimeout))
	assert.Empty(t, events)
	assert.Equal(t, uint64(10), collector.Snapshot().PacketsLost)
	assert.Equal(t, 0, tracker.OpenBlocks())
}

func TestTrackerDrainForceClosesOpenBlocks(t *testing.T) {
	tracker, collector := newTestTracker(t)
	data, _ := buildBlockPackets(t, 5, 50)

	for pos := uint8(0); pos < 4; pos++ {
		require.Empty(t, tracker.IngestData(data[pos], trackerEpoch))
	}

	// Shutdown does not wait for the assembly timeout. The four received
	// positions come back for accounting; the six missing ones are lost.
	drainTime := trackerEpoch.Add(50 * time.Millisecond)
	events := tracker.Drain(drainTime)
	assert.Equal(t, wantBlockEvents(data, drainTime, 0, 1, 2, 3), events)
	assert.Equal(t, uint64(6), collector.Snapshot().PacketsLost)
	assert.Equal(t, 0, tracker.OpenBlocks())

	// The arena is cleared outright, with no tombstone left behind: the
	// same id would serve a fresh incarnation instead of counting its
	// packets as stragglers.
	require.Empty(t, tracker.IngestData(data[0], drainTime.Add(time.Millisecond)))
	assert.Equal(t, 1, tracker.OpenBlocks())
	assert.Equal(t, uint64(0), collector.Snapshot().Duplicates)
}

func TestTrackerBlocksAreIndependent(t *testing.T) {
	tracker, collector := newTestTracker(t)
	blockA, _ := buildBlockPackets(t, 1, 10)
	blockB, _ := buildBlockPackets(t, 2, 30)

	require.Empty(t, tracker.IngestData(blockA[0], trackerEpoch))
	require.Empty(t, tracker.IngestData(blockB[0], trackerEpoch))
	require.Empty(t, tracker.IngestData(blockB[1], trackerEpoch))

	assert.Equal(t, 2, tracker.OpenBlocks())
	assert.Equal(t, uint64(0), collector.Snapshot().Duplicates)
}
