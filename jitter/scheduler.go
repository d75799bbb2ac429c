package jitter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/stats"
)

// Sink receives events whose playout instant has arrived, in playout order.
type Sink func(cw.Event)

// Scheduler is the playout goroutine. It delivers due events to the sink,
// sleeps until the next playout instant, and reacts to the buffer's wake
// signal when an insert moves the head earlier than the pending timer.
type Scheduler struct {
	buf       *Buffer
	sink      Sink
	collector *stats.Collector
}

// NewScheduler creates a scheduler delivering to sink, which must be
// non-nil. The sink runs on the scheduler goroutine; a slow sink delays
// playout but never ingestion.
func NewScheduler(buf *Buffer, sink Sink, collector *stats.Collector) *Scheduler {
	return &Scheduler{
		buf:       buf,
		sink:      sink,
		collector: collector,
	}
}

// Run delivers events until ctx is cancelled, then discards whatever is
// still queued, counting every undelivered event. It is meant to run on its
// own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.Debug("Playout scheduler started")

	for {
		s.deliverDue()

		var timer *time.Timer
		var timerC <-chan time.Time
		if next, ok := s.buf.NextPlayout(); ok {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.discardRemaining()
			return
		case <-s.buf.Wake():
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// deliverDue pops and delivers every event whose playout instant has
// passed. Delivery happens outside the buffer lock.
func (s *Scheduler) deliverDue() {
	for {
		ev, ok := s.buf.PopDue(time.Now())
		if !ok {
			return
		}
		s.sink(ev)
	}
}

// discardRemaining empties the buffer on shutdown so no event disappears
// without being accounted for.
func (s *Scheduler) discardRemaining() {
	discarded := s.buf.Drain()
	if len(discarded) > 0 {
		s.collector.CountDiscarded(len(discarded))
	}
	logrus.WithFields(logrus.Fields{
		"discarded": len(discarded),
	}).Debug("Playout scheduler stopped")
}
