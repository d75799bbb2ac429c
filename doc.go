// Package cwprotocol transports Morse key timing over UDP and reproduces it
// at the receiver with the original rhythm intact.
//
// The sender side (Keyer) turns key-down/key-up events into fixed-size
// packets, groups them into blocks of ten, and emits three Reed-Solomon
// parity packets per block so that any three losses are recoverable. The
// receive side (Receiver) decodes datagrams, reassembles blocks, recovers
// missing events, and plays everything out through a jitter buffer that
// trades a fixed delay for timing stability.
//
// # Receiving
//
//	cfg := cwprotocol.NewConfig()
//	cfg.ListenAddr = ":7373"
//	cfg.BufferDelay = 100 * time.Millisecond
//
//	recv, err := cwprotocol.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	recv.OnEventReady(func(ev cw.Event) {
//	    // drive a sidetone, a relay, a display
//	})
//	if err := recv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer recv.Stop()
//
// # Sending
//
//	sender, err := transport.NewUDPSender("receiver.example:7373")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	keyer, err := cwprotocol.NewKeyer(sender)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	keyer.Key(cw.KeyDown, cw.DitDuration(20))
//	keyer.Key(cw.KeyUp, cw.DitDuration(20))
//	keyer.Flush()
//
// Pipeline statistics (received, recovered, lost, late drops, buffer depth)
// are available at any time through Receiver.Stats.
package cwprotocol
