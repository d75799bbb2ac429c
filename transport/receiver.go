// Package transport moves CW packets over UDP. UDPReceiver runs the
// ingestion read loop; UDPSender is the thin write side used by keyers and
// tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// readTimeout bounds each blocking read so the loop can notice
// cancellation and run periodic work between packets.
const readTimeout = 100 * time.Millisecond

// PacketFunc handles one decoded packet. It runs on the ingestion
// goroutine; now is the packet's arrival time.
type PacketFunc func(pkt wire.Packet, addr net.Addr, now time.Time)

// TickFunc runs on the ingestion goroutine when a read deadline expires
// without traffic.
type TickFunc func(now time.Time)

// UDPReceiver reads datagrams off a bound UDP socket, decodes them, and
// hands packets to a callback on a single goroutine. Malformed datagrams
// are counted and skipped; a failing socket stops the loop and surfaces the
// error through Err.
type UDPReceiver struct {
	conn      net.PacketConn
	collector *stats.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onPacket PacketFunc
	onTick   TickFunc

	mu      sync.Mutex
	readErr error
}

// NewUDPReceiver binds the listen address. A bind failure is fatal and
// returned to the caller.
func NewUDPReceiver(listenAddr string, collector *stats.Collector) (*UDPReceiver, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind udp listener on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &UDPReceiver{
		conn:      conn,
		collector: collector,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the read loop. onPacket must be non-nil; onTick may be nil
// when no periodic work is needed.
func (r *UDPReceiver) Start(onPacket PacketFunc, onTick TickFunc) {
	r.onPacket = onPacket
	r.onTick = onTick

	r.wg.Add(1)
	go r.readLoop()

	logrus.WithFields(logrus.Fields{
		"listen_addr": r.conn.LocalAddr().String(),
	}).Info("UDP receiver started")
}

// Close stops the read loop and releases the socket. It blocks until the
// loop has exited.
func (r *UDPReceiver) Close() error {
	r.cancel()
	err := r.conn.Close()
	r.wg.Wait()
	return err
}

// Err returns the terminal read error, if the loop stopped because of one.
func (r *UDPReceiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (r *UDPReceiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *UDPReceiver) readLoop() {
	defer r.wg.Done()

	// Datagrams are at most wire.PacketSize bytes; anything longer is
	// malformed but still read whole so it can be counted and skipped.
	buffer := make([]byte, 64)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			if !r.readOnce(buffer) {
				return
			}
		}
	}
}

// readOnce performs one deadline-bounded read. It reports whether the loop
// should continue.
func (r *UDPReceiver) readOnce(buffer []byte) bool {
	_ = r.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := r.conn.ReadFrom(buffer)
	now := time.Now()
	if err != nil {
		return r.handleReadError(err, now)
	}

	pkt, err := wire.Decode(buffer[:n])
	if err != nil {
		r.collector.CountMalformed()
		logrus.WithFields(logrus.Fields{
			"remote_addr": addr.String(),
			"length":      n,
			"error":       err.Error(),
		}).Debug("Discarded undecodable datagram")
		return true
	}

	r.onPacket(pkt, addr, now)
	return true
}

// handleReadError classifies a read failure: deadline expiries drive the
// tick callback, a closed socket ends the loop quietly, anything else is a
// terminal transport error.
func (r *UDPReceiver) handleReadError(err error, now time.Time) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if r.onTick != nil {
			r.onTick(now)
		}
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return false
	}

	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"error": err.Error(),
	}).Error("UDP read failed, stopping receiver")
	r.cancel()
	return false
}
