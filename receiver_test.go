package cwprotocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/transport"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// droppingWriter simulates network loss by swallowing data packets at the
// configured block positions. Parity always goes through.
type droppingWriter struct {
	next PacketWriter
	drop map[uint8]bool
}

func (w *droppingWriter) Send(p wire.Packet) error {
	if dp, ok := p.(wire.DataPacket); ok && w.drop[dp.Position] {
		return nil
	}
	return w.next.Send(p)
}

func startReceiver(t *testing.T, cfg *Config) (*Receiver, chan cw.Event) {
	t.Helper()

	cfg.ListenAddr = "127.0.0.1:0"
	rx, err := New(cfg)
	require.NoError(t, err)

	events := make(chan cw.Event, 64)
	rx.OnEventReady(func(ev cw.Event) {
		events <- ev
	})
	require.NoError(t, rx.Start())

	t.Cleanup(func() {
		assert.NoError(t, rx.Stop())
	})
	return rx, events
}

func dialReceiver(t *testing.T, rx *Receiver) *transport.UDPSender {
	t.Helper()
	sender, err := transport.NewUDPSender(rx.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sender.Close() })
	return sender
}

func collectEvents(t *testing.T, ch <-chan cw.Event, n int) []cw.Event {
	t.Helper()
	events := make([]cw.Event, 0, n)
	deadline := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events: got %d of %d", len(events), n)
		}
	}
	return events
}

// Ten events at 20 WPM with three data packets lost in transit: the block
// recovers from parity and the sink hears the full transmission in order,
// one jitter delay after it arrived.
func TestReceiverRecoversLostPacketsEndToEnd(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 100 * time.Millisecond
	rx, events := startReceiver(t, cfg)

	sender := dialReceiver(t, rx)
	lossy := &droppingWriter{next: sender, drop: map[uint8]bool{2: true, 5: true, 8: true}}
	keyer, err := NewKeyer(lossy)
	require.NoError(t, err)

	sendStart := time.Now()
	for i := 0; i < wire.BlockSize; i++ {
		state := cw.KeyDown
		duration := 60 * time.Millisecond
		if i%2 == 1 {
			state = cw.KeyUp
			duration = 180 * time.Millisecond
		}
		require.NoError(t, keyer.Key(state, duration))
	}

	got := collectEvents(t, events, wire.BlockSize)
	playoutDelay := time.Since(sendStart)

	for i, ev := range got {
		assert.Equal(t, uint8(i), ev.Sequence, "event %d out of order", i)
		if i%2 == 1 {
			assert.Equal(t, cw.KeyUp, ev.State)
			assert.Equal(t, 180*time.Millisecond, ev.Duration)
		} else {
			assert.Equal(t, cw.KeyDown, ev.State)
			assert.Equal(t, 60*time.Millisecond, ev.Duration)
		}
	}

	// Playout happens one buffer delay after the block resolved.
	assert.GreaterOrEqual(t, playoutDelay, 90*time.Millisecond)
	assert.Less(t, playoutDelay, 2*time.Second)

	snap := rx.Stats()
	assert.Equal(t, uint64(7), snap.PacketsReceived)
	assert.Equal(t, uint64(3), snap.FecPacketsReceived)
	assert.Equal(t, uint64(3), snap.PacketsRecovered)
	assert.Equal(t, uint64(0), snap.PacketsLost)
	assert.Equal(t, uint64(0), snap.Duplicates)
	assert.Equal(t, uint64(0), snap.LateDrops)
	assert.Equal(t, uint64(0), snap.Malformed)
}

// With zero buffer delay the sink is called inline from ingestion, as soon
// as the block resolves.
func TestReceiverDirectPlayout(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 0
	rx, events := startReceiver(t, cfg)

	sender := dialReceiver(t, rx)
	keyer, err := NewKeyer(sender)
	require.NoError(t, err)

	for i := 0; i < wire.BlockSize; i++ {
		require.NoError(t, keyer.Key(cw.KeyDown, 60*time.Millisecond))
	}

	got := collectEvents(t, events, wire.BlockSize)
	for i, ev := range got {
		assert.Equal(t, uint8(i), ev.Sequence)
	}

	// The trailing parity for the complete block is absorbed quietly.
	require.Eventually(t, func() bool {
		return rx.Stats().FecPacketsReceived == uint64(wire.ParityCount)
	}, 2*time.Second, 10*time.Millisecond)

	snap := rx.Stats()
	assert.Equal(t, uint64(wire.BlockSize), snap.PacketsReceived)
	assert.Equal(t, uint64(0), snap.PacketsRecovered)
	assert.Equal(t, uint64(0), snap.Duplicates)
}

// Version 1 senders have no blocks and no durations; their events pass
// straight through with packet spacing as the only timing.
func TestReceiverLegacyPackets(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 0
	rx, events := startReceiver(t, cfg)

	sender := dialReceiver(t, rx)
	for seq := uint8(0); seq < 4; seq++ {
		state := cw.KeyDown
		if seq%2 == 1 {
			state = cw.KeyUp
		}
		require.NoError(t, sender.Send(wire.LegacyDataPacket{Sequence: seq, State: state}))
	}

	got := collectEvents(t, events, 4)
	for i, ev := range got {
		assert.Equal(t, uint8(i), ev.Sequence)
		assert.Equal(t, time.Duration(0), ev.Duration)
	}
	assert.Equal(t, uint64(4), rx.Stats().PacketsReceived)
}

// A block with more losses than the parity can repair expires: the receiver
// plays what arrived and accounts the rest as lost.
func TestReceiverExpiresUnrecoverableBlock(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 0
	cfg.BlockTimeout = 200 * time.Millisecond
	cfg.BlockReuseTTL = 200 * time.Millisecond
	rx, events := startReceiver(t, cfg)

	sender := dialReceiver(t, rx)
	lossy := &droppingWriter{next: sender, drop: map[uint8]bool{1: true, 3: true, 5: true, 7: true}}
	keyer, err := NewKeyer(lossy)
	require.NoError(t, err)

	for i := 0; i < wire.BlockSize; i++ {
		require.NoError(t, keyer.Key(cw.KeyDown, 60*time.Millisecond))
	}

	// Six of ten data packets survive; with four erasures the parity
	// cannot help, so the block rides out the timeout.
	got := collectEvents(t, events, 6)
	want := []uint8{0, 2, 4, 6, 8, 9}
	for i, ev := range got {
		assert.Equal(t, want[i], ev.Sequence)
	}

	snap := rx.Stats()
	assert.Equal(t, uint64(6), snap.PacketsReceived)
	assert.Equal(t, uint64(4), snap.PacketsLost)
	assert.Equal(t, uint64(0), snap.PacketsRecovered)
}

// Stopping mid-block abandons nothing silently: the positions that arrived
// are discarded with a count and the ones that never arrived are lost.
func TestReceiverStopAccountsOpenBlocks(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 2 * time.Second
	rx, events := startReceiver(t, cfg)

	sender := dialReceiver(t, rx)
	keyer, err := NewKeyer(sender)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, keyer.Key(cw.KeyDown, 60*time.Millisecond))
	}
	require.Eventually(t, func() bool {
		return rx.Stats().PacketsReceived == 4
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, rx.Stop())

	snap := rx.Stats()
	assert.Equal(t, uint64(6), snap.PacketsLost)
	assert.Equal(t, uint64(4), snap.Discarded)
	assert.Equal(t, uint64(0), snap.PacketsRecovered)
	assert.Equal(t, 0, rx.BufferDepth())
	select {
	case ev := <-events:
		t.Fatalf("sink delivered %v after stop", ev)
	default:
	}
}

// A datagram that lands while the playout side is already gone must still
// be accounted when Stop completes. The playout context is cancelled by
// hand so the scheduler's shutdown drain is certain to predate the packet.
func TestReceiverAccountsArrivalsDuringShutdown(t *testing.T) {
	cfg := NewConfig()
	cfg.BufferDelay = 2 * time.Second
	rx, events := startReceiver(t, cfg)
	sender := dialReceiver(t, rx)

	rx.cancel()
	rx.wg.Wait()

	require.NoError(t, sender.Send(wire.LegacyDataPacket{Sequence: 0, State: cw.KeyDown}))
	require.Eventually(t, func() bool {
		return rx.BufferDepth() == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, rx.Stop())

	snap := rx.Stats()
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(1), snap.Discarded)
	assert.Equal(t, uint64(0), snap.LateDrops)
	assert.Equal(t, 0, rx.BufferDepth())
	select {
	case ev := <-events:
		t.Fatalf("sink delivered %v during shutdown", ev)
	default:
	}
}

func TestReceiverStartWithoutSink(t *testing.T) {
	cfg := NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	rx, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = rx.Stop() }()

	assert.ErrorIs(t, rx.Start(), ErrNoSink)
}

func TestReceiverDoubleStart(t *testing.T) {
	cfg := NewConfig()
	rx, _ := startReceiver(t, cfg)

	assert.ErrorIs(t, rx.Start(), ErrAlreadyStarted)
}

func TestReceiverStopIdempotent(t *testing.T) {
	cfg := NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	rx, err := New(cfg)
	require.NoError(t, err)
	rx.OnEventReady(func(cw.Event) {})
	require.NoError(t, rx.Start())

	require.NoError(t, rx.Stop())
	assert.NoError(t, rx.Stop())
}

func TestReceiverRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddr = "" }},
		{"negative buffer delay", func(c *Config) { c.BufferDelay = -time.Millisecond }},
		{"negative late threshold", func(c *Config) { c.LateDropThreshold = -time.Second }},
		{"zero block timeout", func(c *Config) { c.BlockTimeout = 0 }},
		{"zero reuse ttl", func(c *Config) { c.BlockReuseTTL = 0 }},
		{"wrong data shards", func(c *Config) { c.DataShards = 8 }},
		{"wrong parity shards", func(c *Config) { c.ParityShards = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
