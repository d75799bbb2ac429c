package cwprotocol

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/fec"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/jitter"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/transport"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

var (
	// ErrNoSink indicates Start was called before OnEventReady.
	ErrNoSink = errors.New("no event sink registered")

	// ErrAlreadyStarted indicates a second Start on a running receiver.
	ErrAlreadyStarted = errors.New("receiver already started")
)

// sweepInterval bounds how long block expiry can lag behind under
// continuous traffic, when the read loop never idles.
const sweepInterval = 100 * time.Millisecond

// Receiver is the receive pipeline: UDP ingestion, packet sequencing, FEC
// recovery, jitter-buffered playout, and statistics. Create one with New,
// register a sink with OnEventReady, then Start.
type Receiver struct {
	cfg *Config

	collector *stats.Collector
	tracker   *fec.Tracker
	buffer    *jitter.Buffer
	udp       *transport.UDPReceiver

	sink   jitter.Sink
	direct bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	// lastSweep is touched only on the ingestion goroutine.
	lastSweep time.Time
}

// New validates the configuration, binds the UDP socket, and wires the
// pipeline. Nothing runs until Start.
func New(cfg *Config) (*Receiver, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	collector := stats.NewCollector()

	engine, err := fec.NewEngine(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, err
	}

	udp, err := transport.NewUDPReceiver(cfg.ListenAddr, collector)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Receiver{
		cfg:       cfg,
		collector: collector,
		tracker:   fec.NewTracker(engine, cfg.BlockTimeout, cfg.BlockReuseTTL, collector),
		buffer:    jitter.NewBuffer(cfg.BufferDelay, cfg.LateDropThreshold, collector),
		udp:       udp,
		direct:    cfg.BufferDelay == 0,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// OnEventReady registers the sink that receives playout-ready events. It
// must be called before Start. In buffered mode the sink runs on the
// playout goroutine; in direct mode it runs inline on the ingestion
// goroutine.
func (r *Receiver) OnEventReady(sink func(cw.Event)) {
	r.sink = jitter.Sink(sink)
}

// Start launches the ingestion loop and, in buffered mode, the playout
// scheduler.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	if r.sink == nil {
		return ErrNoSink
	}
	r.started = true

	if !r.direct {
		scheduler := jitter.NewScheduler(r.buffer, r.sink, r.collector)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			scheduler.Run(r.ctx)
		}()
	}

	r.udp.Start(r.handlePacket, r.handleTick)

	logrus.WithFields(logrus.Fields{
		"listen_addr":    r.udp.LocalAddr().String(),
		"buffer_delay":   r.cfg.BufferDelay.String(),
		"direct_playout": r.direct,
	}).Info("CW receiver started")
	return nil
}

// Stop shuts the pipeline down from the socket inward: the read loop
// exits first, blocks still assembling are force-closed with their losses
// counted, then the scheduler discards whatever is still queued with a
// stats update. Stop returns the terminal transport error if the ingestion
// loop died on one. It is safe to call after a failed Start and at most
// once does the teardown.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	// Close joins the read loop: past this point nothing feeds the
	// tracker or the buffer.
	closeErr := r.udp.Close()

	// Open blocks will never resolve. The drain counts their missing
	// positions as lost; the events they still held are discarded.
	if abandoned := r.tracker.Drain(time.Now()); len(abandoned) > 0 {
		r.collector.CountDiscarded(len(abandoned))
	}

	r.cancel()
	r.wg.Wait()

	// The scheduler drains at cancellation; this accounts anything that
	// reached the buffer after that drain.
	if stranded := r.buffer.Drain(); len(stranded) > 0 {
		r.collector.CountDiscarded(len(stranded))
	}

	if err := r.udp.Err(); err != nil {
		return err
	}

	logrus.Info("CW receiver stopped")
	return closeErr
}

// Stats returns a snapshot of the pipeline counters.
func (r *Receiver) Stats() stats.Snapshot {
	return r.collector.Snapshot()
}

// LocalAddr returns the bound UDP address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.udp.LocalAddr()
}

// BufferDepth returns the number of events currently queued for playout.
func (r *Receiver) BufferDepth() int {
	return r.buffer.Len()
}

// handlePacket classifies one decoded packet and moves any resulting
// events toward playout. It runs on the ingestion goroutine.
func (r *Receiver) handlePacket(pkt wire.Packet, _ net.Addr, now time.Time) {
	switch p := pkt.(type) {
	case wire.DataPacket:
		r.collector.CountPacket()
		r.forward(r.tracker.IngestData(p, now))
	case wire.ParityPacket:
		r.collector.CountFecPacket()
		r.forward(r.tracker.IngestParity(p, now))
	case wire.LegacyDataPacket:
		// Legacy packets carry no block coordinates and bypass FEC.
		r.collector.CountPacket()
		r.forward([]cw.Event{p.Event(now)})
	}

	r.sweepIfDue(now)
}

// handleTick advances block expiry while the socket is idle. An expired
// block releases whatever it collected, so the sweep result flows to
// playout like any resolved block.
func (r *Receiver) handleTick(now time.Time) {
	r.forward(r.tracker.Sweep(now))
	r.lastSweep = now
}

// sweepIfDue keeps expiry moving under continuous traffic, when read
// deadlines never fire.
func (r *Receiver) sweepIfDue(now time.Time) {
	if now.Sub(r.lastSweep) < sweepInterval {
		return
	}
	r.forward(r.tracker.Sweep(now))
	r.lastSweep = now
}

// forward hands events to the sink, through the jitter buffer in buffered
// mode or inline in direct mode.
func (r *Receiver) forward(events []cw.Event) {
	for _, ev := range events {
		if r.direct {
			r.sink(ev)
			continue
		}
		r.buffer.Insert(ev)
	}
}
