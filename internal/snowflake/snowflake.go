// ABOUTME: Time-ordered unique ID generation for messages and conversations
// ABOUTME: Millisecond timestamp shifted left 12 bits, OR'd with a per-ms sequence

package snowflake

import (
	"sync"
	"time"
)

// sequenceBits is how many low bits carry the per-millisecond sequence.
const sequenceBits = 12

// maxSequence is the largest sequence value before the generator must wait
// for the clock to advance (4095).
const maxSequence = (1 << sequenceBits) - 1

// Generator issues unique, strictly increasing 64-bit IDs. IDs issued later
// always sort after IDs issued earlier on the same instance. There is no
// cross-process coordination: two Generator instances can collide, so each
// process owns exactly one.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
	now      func() int64 // millisecond clock, replaceable in tests
}

// New creates a Generator backed by the wall clock.
func New() *Generator {
	return &Generator{
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Next returns the next ID. If more than 4096 IDs are requested within one
// millisecond it spins until the clock advances.
func (g *Generator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms == g.lastMs {
		g.sequence++
		if g.sequence > maxSequence {
			for ms <= g.lastMs {
				ms = g.now()
			}
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms

	return uint64(ms)<<sequenceBits | g.sequence
}

// Timestamp recovers the millisecond Unix timestamp embedded in an ID.
func Timestamp(id uint64) int64 {
	return int64(id >> sequenceBits)
}

// Sequence recovers the per-millisecond sequence embedded in an ID.
func Sequence(id uint64) uint64 {
	return id & maxSequence
}
