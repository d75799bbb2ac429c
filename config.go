package cwprotocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// ErrInvalidConfig indicates a configuration that cannot produce a working
// receiver.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config controls a Receiver. Create one with NewConfig and adjust fields
// before passing it to New.
type Config struct {
	// ListenAddr is the UDP address to bind, host:port.
	ListenAddr string

	// BufferDelay is how long events are held past arrival to absorb
	// network jitter. Zero selects direct playout: events reach the sink
	// inline from the ingestion goroutine with no added delay.
	BufferDelay time.Duration

	// LateDropThreshold drops events older than this at enqueue time.
	// Zero disables the check.
	LateDropThreshold time.Duration

	// BlockTimeout bounds how long an incomplete FEC block may wait for
	// more packets before its missing positions are declared lost.
	BlockTimeout time.Duration

	// BlockReuseTTL is how long a closed block id keeps absorbing
	// stragglers before the id can serve a new block.
	BlockReuseTTL time.Duration

	// DataShards and ParityShards fix the FEC geometry. The wire format
	// pins them to 10 and 3; Validate rejects anything else.
	DataShards   int
	ParityShards int
}

// NewConfig returns the default configuration: a 100ms jitter buffer, a
// 500ms late threshold, and 2s block lifetimes.
func NewConfig() *Config {
	return &Config{
		ListenAddr:        ":7373",
		BufferDelay:       100 * time.Millisecond,
		LateDropThreshold: 500 * time.Millisecond,
		BlockTimeout:      2 * time.Second,
		BlockReuseTTL:     2 * time.Second,
		DataShards:        wire.BlockSize,
		ParityShards:      wire.ParityCount,
	}
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidConfig)
	}
	if c.BufferDelay < 0 {
		return fmt.Errorf("%w: buffer delay %s is negative", ErrInvalidConfig, c.BufferDelay)
	}
	if c.LateDropThreshold < 0 {
		return fmt.Errorf("%w: late drop threshold %s is negative", ErrInvalidConfig, c.LateDropThreshold)
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("%w: block timeout %s must be positive", ErrInvalidConfig, c.BlockTimeout)
	}
	if c.BlockReuseTTL <= 0 {
		return fmt.Errorf("%w: block reuse TTL %s must be positive", ErrInvalidConfig, c.BlockReuseTTL)
	}
	if c.DataShards != wire.BlockSize || c.ParityShards != wire.ParityCount {
		return fmt.Errorf("%w: FEC geometry %d+%d differs from the wire format's %d+%d",
			ErrInvalidConfig, c.DataShards, c.ParityShards, wire.BlockSize, wire.ParityCount)
	}
	return nil
}
