// package heap implements an offset allocator over a linear address range. It hands out [begin, end)
// ranges and never touches the memory those ranges describe; owners map them onto GPU buffers.
package heap

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancing/common"
)

// ErrShrink is returned by Resize when the requested size is smaller than the current size.
var ErrShrink = errors.New("heap: allocator cannot shrink")

// Block is a half-open offset range [Begin, End) inside an allocator's address space.
type Block struct {
	Begin uint64
	End   uint64
}

// EmptyBlock is returned by Allocate when no contiguous free range can satisfy a request.
var EmptyBlock = Block{}

// Empty reports whether the block covers no bytes.
func (b Block) Empty() bool { return b.End <= b.Begin }

// Length returns the number of bytes covered by the block.
func (b Block) Length() uint64 {
	if b.Empty() {
		return 0
	}
	return b.End - b.Begin
}

// Contains reports whether offset lies inside the block.
func (b Block) Contains(offset uint64) bool { return offset >= b.Begin && offset < b.End }

// Overlaps reports whether two blocks share at least one byte.
func (b Block) Overlaps(o Block) bool {
	return !b.Empty() && !o.Empty() && b.Begin < o.End && o.Begin < b.End
}

func (b Block) String() string { return fmt.Sprintf("[%d, %d)", b.Begin, b.End) }

// Allocator is a best-fit offset allocator over a linear address range of fixed (growable) size.
// Allocate and Release are expected to be called from a single coordinating goroutine;
// OnePastHighestUsedAddress may be read concurrently from any goroutine.
type Allocator interface {
	// Allocate reserves a block of exactly size bytes whose Begin is a multiple of alignment.
	// The smallest free range that fits is chosen; ties go to the lowest address.
	//
	// Parameters:
	//   - size: number of bytes to reserve (0 returns EmptyBlock)
	//   - alignment: required alignment of Begin, a power of two (0 is treated as 1)
	//
	// Returns:
	//   - Block: the reserved block, or EmptyBlock if no free range fits
	Allocate(size, alignment uint64) Block

	// Release returns a block previously obtained from Allocate to the free pool, coalescing it with
	// adjacent free ranges. Releasing an unknown or already released block is an assertion.
	//
	// Parameters:
	//   - b: the block to release
	Release(b Block)

	// OnePastHighestUsedAddress reports the high-water mark: the end of the highest live allocation.
	// The owner uses it to size the backing buffer. Safe for concurrent reads.
	//
	// Returns:
	//   - uint64: one past the highest allocated byte, 0 when nothing is allocated
	OnePastHighestUsedAddress() uint64

	// FreeSpace returns the total number of unallocated bytes, including fragmented ranges.
	FreeSpace() uint64

	// UsedSpace returns the total number of allocated bytes.
	UsedSpace() uint64

	// LargestFreeRange returns the length of the largest contiguous free range.
	LargestFreeRange() uint64

	// Size returns the size of the managed address range.
	Size() uint64

	// Resize grows the managed address range. New space is appended to the end of the range.
	//
	// Parameters:
	//   - newSize: the new total size (must be >= Size())
	//
	// Returns:
	//   - error: ErrShrink if newSize is smaller than the current size
	Resize(newSize uint64) error

	// AllocationCount returns the number of live allocations.
	AllocationCount() int
}

type allocator struct {
	mu *sync.RWMutex

	name   string
	logger *slog.Logger

	size      uint64
	used      uint64
	free      []Block           // sorted by Begin, never adjacent
	live      map[uint64]uint64 // Begin -> End of live allocations
	highWater atomic.Uint64
}

// Ensure allocator implements Allocator interface.
var _ Allocator = &allocator{}

// NewAllocator creates an Allocator managing the range [0, size).
//
// Parameters:
//   - size: the size of the address range in bytes
//   - options: functional options to configure the allocator
//
// Returns:
//   - Allocator: the new allocator
func NewAllocator(size uint64, options ...AllocatorBuilderOption) Allocator {
	a := &allocator{
		mu:     &sync.RWMutex{},
		name:   "heap",
		logger: common.NopLogger(),
		size:   size,
		live:   make(map[uint64]uint64),
	}
	for _, option := range options {
		option(a)
	}
	if size > 0 {
		a.free = []Block{{Begin: 0, End: size}}
	}
	return a
}

func (a *allocator) Allocate(size, alignment uint64) Block {
	if size == 0 {
		return EmptyBlock
	}
	if alignment == 0 {
		alignment = 1
	}
	if !common.Assert(a.logger, common.IsPowerOfTwo(alignment), "heap %s: alignment %d is not a power of two", a.name, alignment) {
		return EmptyBlock
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	best := -1
	var bestBegin uint64
	for i, r := range a.free {
		begin := common.AlignUp(r.Begin, alignment)
		if begin < r.Begin || begin+size > r.End || begin+size < begin {
			continue
		}
		if best < 0 || r.Length() < a.free[best].Length() {
			best = i
			bestBegin = begin
		}
	}
	if best < 0 {
		return EmptyBlock
	}

	r := a.free[best]
	out := Block{Begin: bestBegin, End: bestBegin + size}

	var parts [2]Block
	n := 0
	if out.Begin > r.Begin {
		parts[n] = Block{Begin: r.Begin, End: out.Begin}
		n++
	}
	if out.End < r.End {
		parts[n] = Block{Begin: out.End, End: r.End}
		n++
	}
	a.free = append(a.free[:best], append(parts[:n:n], a.free[best+1:]...)...)

	a.live[out.Begin] = out.End
	a.used += size
	a.updateHighWater()
	return out
}

func (a *allocator) Release(b Block) {
	if b.Empty() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	end, ok := a.live[b.Begin]
	if !common.Assert(a.logger, ok && end == b.End, "heap %s: release of unknown or already released block %s", a.name, b) {
		return
	}
	delete(a.live, b.Begin)
	a.used -= b.Length()

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Begin >= b.Begin })
	mergePrev := i > 0 && a.free[i-1].End == b.Begin
	mergeNext := i < len(a.free) && a.free[i].Begin == b.End

	switch {
	case mergePrev && mergeNext:
		a.free[i-1].End = a.free[i].End
		a.free = append(a.free[:i], a.free[i+1:]...)
	case mergePrev:
		a.free[i-1].End = b.End
	case mergeNext:
		a.free[i].Begin = b.Begin
	default:
		a.free = append(a.free, Block{})
		copy(a.free[i+1:], a.free[i:])
		a.free[i] = b
	}
	a.updateHighWater()
}

// updateHighWater must be called with mu held for writing.
func (a *allocator) updateHighWater() {
	if len(a.live) == 0 {
		a.highWater.Store(0)
		return
	}
	if n := len(a.free); n > 0 && a.free[n-1].End == a.size {
		a.highWater.Store(a.free[n-1].Begin)
		return
	}
	a.highWater.Store(a.size)
}

func (a *allocator) OnePastHighestUsedAddress() uint64 {
	return a.highWater.Load()
}

func (a *allocator) FreeSpace() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size - a.used
}

func (a *allocator) UsedSpace() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.used
}

func (a *allocator) LargestFreeRange() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var largest uint64
	for _, r := range a.free {
		largest = max(largest, r.Length())
	}
	return largest
}

func (a *allocator) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

func (a *allocator) Resize(newSize uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if newSize < a.size {
		return fmt.Errorf("heap %s: resize %d -> %d: %w", a.name, a.size, newSize, ErrShrink)
	}
	if newSize == a.size {
		return nil
	}
	if n := len(a.free); n > 0 && a.free[n-1].End == a.size {
		a.free[n-1].End = newSize
	} else {
		a.free = append(a.free, Block{Begin: a.size, End: newSize})
	}
	a.size = newSize
	a.updateHighWater()
	return nil
}

func (a *allocator) AllocationCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.live)
}
