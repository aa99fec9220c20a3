package culling

import (
	"errors"
	"fmt"
)

var (
	// ErrArenaExhausted is returned when an arena has no room left this frame.
	ErrArenaExhausted = errors.New("culling: arena exhausted")
	// ErrStaleRef is returned when resolving a Ref issued before the arena's last rewind.
	ErrStaleRef = errors.New("culling: stale arena reference")
)

// Ref is an index handle into an Arena. The zero Ref refers to nothing.
type Ref struct {
	Arena  uint16
	Gen    uint32
	Offset uint32
	Len    uint32
}

// IsZero reports whether the ref refers to nothing.
func (r Ref) IsZero() bool { return r.Gen == 0 }

// Slice returns the sub-range [off, off+n) of the ref.
func (r Ref) Slice(off, n int) Ref {
	return Ref{Arena: r.Arena, Gen: r.Gen, Offset: r.Offset + uint32(off), Len: uint32(n)}
}

// Arena is a bump allocator of 32-bit words reclaimed as a whole by Rewind. Every rewind advances
// the generation so refs issued before it fail to resolve.
// An Arena is used by one task at a time; the pipeline hands arenas out through its slot pool.
type Arena struct {
	id    uint16
	gen   uint32
	used  uint32
	words []uint32
}

// NewArena creates an arena holding capacity words.
func NewArena(id uint16, capacity int) *Arena {
	return &Arena{id: id, gen: 1, words: make([]uint32, capacity)}
}

// ID returns the arena's index in its pipeline.
func (a *Arena) ID() uint16 { return a.id }

// Generation returns the current generation.
func (a *Arena) Generation() uint32 { return a.gen }

// Used returns the number of words handed out since the last rewind.
func (a *Arena) Used() int { return int(a.used) }

// Capacity returns the arena size in words.
func (a *Arena) Capacity() int { return len(a.words) }

// Alloc reserves n words. A zero-length request returns the zero Ref.
//
// Parameters:
//   - n: the number of words
//
// Returns:
//   - Ref: the handle of the reserved words
//   - error: ErrArenaExhausted when fewer than n words remain
func (a *Arena) Alloc(n int) (Ref, error) {
	if n <= 0 {
		return Ref{}, nil
	}
	if uint64(a.used)+uint64(n) > uint64(len(a.words)) {
		return Ref{}, fmt.Errorf("arena %d: %d words requested, %d free: %w", a.id, n, len(a.words)-int(a.used), ErrArenaExhausted)
	}
	ref := Ref{Arena: a.id, Gen: a.gen, Offset: a.used, Len: uint32(n)}
	a.used += uint32(n)
	return ref, nil
}

// Resolve returns the words a ref points at.
//
// Parameters:
//   - ref: a handle issued by this arena
//
// Returns:
//   - []uint32: the referenced words, aliasing arena storage
//   - error: ErrStaleRef if the ref belongs to another arena or an earlier generation
func (a *Arena) Resolve(ref Ref) ([]uint32, error) {
	if ref.IsZero() {
		return nil, nil
	}
	if ref.Arena != a.id || ref.Gen != a.gen || ref.Offset+ref.Len > a.used {
		return nil, fmt.Errorf("arena %d gen %d: ref gen %d: %w", a.id, a.gen, ref.Gen, ErrStaleRef)
	}
	return a.words[ref.Offset : ref.Offset+ref.Len], nil
}

// Rewind reclaims every word and invalidates all outstanding refs.
func (a *Arena) Rewind() {
	a.used = 0
	a.gen++
	if a.gen == 0 {
		a.gen = 1
	}
}
