package fec

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

var (
	// ErrInsufficientRedundancy indicates more shards are missing than the
	// parity can repair.
	ErrInsufficientRedundancy = errors.New("insufficient redundancy to recover block")

	// ErrBadShardSet indicates a shard slice whose shape does not match the
	// engine geometry.
	ErrBadShardSet = errors.New("bad shard set")
)

// Engine performs Reed-Solomon encoding and recovery over fixed-size
// symbol-groups. It is stateless apart from the precomputed coding matrix
// and safe for concurrent use.
type Engine struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewEngine creates an engine for the given geometry.
func NewEngine(dataShards, parityShards int) (*Engine, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	return &Engine{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

// DataShards returns the number of data shards per block.
func (e *Engine) DataShards() int {
	return e.dataShards
}

// ParityShards returns the number of parity shards per block.
func (e *Engine) ParityShards() int {
	return e.parityShards
}

// Parity computes the parity shards for a full set of data shards. All data
// shards must be present and of equal, nonzero length. The input is not
// modified.
func (e *Engine) Parity(data [][]byte) ([][]byte, error) {
	if len(data) != e.dataShards {
		return nil, fmt.Errorf("%w: %d data shards, want %d", ErrBadShardSet, len(data), e.dataShards)
	}
	size := 0
	for i, shard := range data {
		if len(shard) == 0 {
			return nil, fmt.Errorf("%w: data shard %d is empty", ErrBadShardSet, i)
		}
		if size == 0 {
			size = len(shard)
		} else if len(shard) != size {
			return nil, fmt.Errorf("%w: data shard %d has size %d, want %d", ErrBadShardSet, i, len(shard), size)
		}
	}

	shards := make([][]byte, e.dataShards+e.parityShards)
	for i, shard := range data {
		shards[i] = append([]byte(nil), shard...)
	}
	for i := e.dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, size)
	}

	if err := e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}
	return shards[e.dataShards:], nil
}

// Reconstruct fills in missing shards in place. A nil entry marks a known
// erasure; present shards are never modified. When more shards are missing
// than the parity count, ErrInsufficientRedundancy is returned and the
// shard set is left untouched.
func (e *Engine) Reconstruct(shards [][]byte) error {
	if len(shards) != e.dataShards+e.parityShards {
		return fmt.Errorf("%w: %d shards, want %d", ErrBadShardSet, len(shards), e.dataShards+e.parityShards)
	}

	present := 0
	for _, shard := range shards {
		if len(shard) > 0 {
			present++
		}
	}
	if present < e.dataShards {
		return fmt.Errorf("%w: %d of %d shards present, need %d",
			ErrInsufficientRedundancy, present, len(shards), e.dataShards)
	}

	if err := e.enc.Reconstruct(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return fmt.Errorf("%w: %v", ErrInsufficientRedundancy, err)
		}
		return fmt.Errorf("reconstruct block: %w", err)
	}
	return nil
}
