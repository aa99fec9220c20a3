package batch

import (
	"math/bits"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// GarbageCollector is a per-frame mark-and-sweep over batch ids. Begin sets the bit of every live batch
// ("unreferenced"), update tasks clear the bit of every batch that still has a live group, and Sweep
// returns the ids whose bit survived. MarkReferenced is safe to call from many goroutines at once.
type GarbageCollector struct {
	words []atomic.Uint64
	size  uint32
}

// NewGarbageCollector creates an empty collector.
func NewGarbageCollector() *GarbageCollector {
	return &GarbageCollector{}
}

// Begin prepares the bitset for a frame.
//
// Parameters:
//   - live: the ids of every live batch
//   - indexRange: one past the highest live id
func (gc *GarbageCollector) Begin(live *roaring.Bitmap, indexRange uint32) {
	need := int(indexRange+63) / 64
	if cap(gc.words) < need {
		gc.words = make([]atomic.Uint64, need)
	} else {
		gc.words = gc.words[:need]
		for i := range gc.words {
			gc.words[i].Store(0)
		}
	}
	gc.size = indexRange

	it := live.Iterator()
	for it.HasNext() {
		id := it.Next()
		if id >= indexRange {
			continue
		}
		gc.words[id>>6].Or(1 << (id & 63))
	}
}

// MarkReferenced clears the bit of a batch that still has a live group.
func (gc *GarbageCollector) MarkReferenced(id ID) {
	if id < 0 || uint32(id) >= gc.size {
		return
	}
	gc.words[id>>6].And(^(uint64(1) << (uint32(id) & 63)))
}

// Sweep returns every id still marked unreferenced, ascending. Call only after all MarkReferenced
// calls of the frame have completed.
func (gc *GarbageCollector) Sweep() []ID {
	var out []ID
	for w := range gc.words {
		bitsLeft := gc.words[w].Load()
		for bitsLeft != 0 {
			bit := uint32(bits.TrailingZeros64(bitsLeft))
			out = append(out, ID(uint32(w)*64+bit))
			bitsLeft &= bitsLeft - 1
		}
	}
	return out
}
