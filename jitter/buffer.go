package jitter

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
)

// entry is a queued event together with its playout instant. The skiplist
// key carries the instant at microsecond resolution; the entry keeps the
// exact time for timer math.
type entry struct {
	event     cw.Event
	playoutAt time.Time
}

// playoutKey orders entries by playout instant, ties broken by sequence
// number. Microseconds shifted left eight bits leave the low byte for the
// sequence, keeping keys unique per event and the order total.
func playoutKey(at time.Time, sequence uint8) int64 {
	return at.UnixMicro()<<8 | int64(sequence)
}

// Buffer is the playout queue shared by the ingestion and playout
// goroutines. All access goes through its mutex; holders never block on
// anything but the map itself, so ingestion cannot stall behind a slow
// sink.
type Buffer struct {
	mu   sync.Mutex
	list *skiplist.SkipList

	wake chan struct{}

	delay         time.Duration
	lateThreshold time.Duration
	collector     *stats.Collector
}

// NewBuffer creates a buffer that schedules events delay after their
// arrival and refuses events older than lateThreshold at enqueue time. A
// lateThreshold of zero disables the lateness check.
func NewBuffer(delay, lateThreshold time.Duration, collector *stats.Collector) *Buffer {
	return &Buffer{
		list:          skiplist.New(skiplist.Int64),
		wake:          make(chan struct{}, 1),
		delay:         delay,
		lateThreshold: lateThreshold,
		collector:     collector,
	}
}

// Insert queues an event for playout at its arrival time plus the buffer
// delay. Events that are already older than the late threshold are dropped
// and counted; they never reach the sink. Insert reports whether the event
// was queued.
func (b *Buffer) Insert(ev cw.Event) bool {
	if b.lateThreshold > 0 {
		if age := time.Since(ev.ArrivalTime); age > b.lateThreshold {
			b.collector.CountLateDrop()
			logrus.WithFields(logrus.Fields{
				"sequence":  ev.Sequence,
				"age":       age.String(),
				"threshold": b.lateThreshold.String(),
			}).Warn("Event older than late threshold, dropped")
			return false
		}
	}

	at := ev.ArrivalTime.Add(b.delay)
	key := playoutKey(at, ev.Sequence)

	b.mu.Lock()
	b.list.Set(key, entry{event: ev, playoutAt: at})
	newHead := b.list.Front().Key().(int64) == key
	b.collector.SetBufferDepth(b.list.Len())
	b.mu.Unlock()

	if newHead {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// PopDue removes and returns the earliest event if its playout instant has
// been reached.
func (b *Buffer) PopDue(now time.Time) (cw.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.list.Front()
	if front == nil {
		return cw.Event{}, false
	}
	e := front.Value.(entry)
	if e.playoutAt.After(now) {
		return cw.Event{}, false
	}

	b.list.RemoveFront()
	b.collector.SetBufferDepth(b.list.Len())
	return e.event, true
}

// NextPlayout returns the playout instant of the earliest queued event.
func (b *Buffer) NextPlayout() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.list.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(entry).playoutAt, true
}

// Drain removes and returns all queued events in playout order.
func (b *Buffer) Drain() []cw.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]cw.Event, 0, b.list.Len())
	for b.list.Len() > 0 {
		front := b.list.Front()
		events = append(events, front.Value.(entry).event)
		b.list.RemoveFront()
	}
	b.collector.SetBufferDepth(0)
	return events
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list.Len()
}

// Wake signals when an insert established a new earliest event. The channel
// holds one pending signal, so a wake can never be missed between waits.
func (b *Buffer) Wake() <-chan struct{} {
	return b.wake
}
