package scanner

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned for ranges with From > To, a zero chunk
// capacity or more than MaxChunks chunks. It indicates a caller bug and is
// never retried.
var ErrInvalidRange = errors.New("invalid block range")

// MaxChunks bounds the number of chunks one range may be split into.
const MaxChunks = 100_000

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Validate checks From <= To.
func (r BlockRange) Validate() error {
	if r.From > r.To {
		return fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Size returns the number of blocks in the range, saturating at
// math.MaxUint64 for the full-width range.
func (r BlockRange) Size() uint64 {
	if r.From > r.To {
		return 0
	}
	if r.To-r.From == math.MaxUint64 {
		return math.MaxUint64
	}
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}

// SplitRange cuts r into consecutive chunks of at most capacity blocks.
// Chunks are ascending, contiguous and non-overlapping, and their union is
// exactly r; only the last chunk may be shorter. Ranges needing more than
// MaxChunks chunks are rejected before anything is allocated.
func SplitRange(r BlockRange, capacity uint64) ([]BlockRange, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if capacity == 0 {
		return nil, fmt.Errorf("%w: zero chunk capacity", ErrInvalidRange)
	}

	// Chunk count minus one; cannot overflow.
	if n := (r.To - r.From) / capacity; n >= MaxChunks {
		return nil, fmt.Errorf("%w: %s needs more than %d chunks of %d blocks", ErrInvalidRange, r, MaxChunks, capacity)
	}

	chunks := make([]BlockRange, 0, (r.To-r.From)/capacity+1)
	for from := r.From; ; {
		to := r.To
		if r.To-from >= capacity {
			to = from + capacity - 1
		}
		chunks = append(chunks, BlockRange{From: from, To: to})
		if to == r.To {
			break
		}
		from = to + 1
	}
	return chunks, nil
}
