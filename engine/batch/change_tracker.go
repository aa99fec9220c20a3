package batch

import (
	"math/bits"

	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
)

// MaxTrackedProperties is the number of property slots a DirtyMask can address.
const MaxTrackedProperties = 128

// DirtyMask has one bit per tracked property slot of a group's batch.
// Slots 0-63 live in the first word, 64-127 in the second.
type DirtyMask [2]uint64

// Set marks a slot dirty.
func (m *DirtyMask) Set(slot int) {
	m[slot>>6] |= 1 << (slot & 63)
}

// Has reports whether a slot is dirty.
func (m DirtyMask) Has(slot int) bool {
	return m[slot>>6]&(1<<(slot&63)) != 0
}

// Or accumulates another mask into m.
func (m *DirtyMask) Or(o DirtyMask) {
	m[0] |= o[0]
	m[1] |= o[1]
}

// IsZero reports whether nothing is dirty.
func (m DirtyMask) IsZero() bool { return m[0] == 0 && m[1] == 0 }

// Count returns the number of dirty slots.
func (m DirtyMask) Count() int { return bits.OnesCount64(m[0]) + bits.OnesCount64(m[1]) }

// FullMask returns a mask with the first n slots set.
func FullMask(n int) DirtyMask {
	var m DirtyMask
	switch {
	case n <= 0:
	case n < 64:
		m[0] = 1<<n - 1
	case n == 64:
		m[0] = ^uint64(0)
	case n < MaxTrackedProperties:
		m[0] = ^uint64(0)
		m[1] = 1<<(n-64) - 1
	default:
		m[0], m[1] = ^uint64(0), ^uint64(0)
	}
	return m
}

// ComputeDirtyMask decides which property slots of a group must be uploaded again.
// A new group, or one whose storage order changed after lastProcessed, is fully dirty. Otherwise a slot
// is dirty when its stream was written after lastProcessed. props are the group's tracked properties
// in slot order; derived kinds never appear there.
//
// Parameters:
//   - g: the group to inspect
//   - props: tracked property descriptors in slot order
//   - lastProcessed: the version the group's data was last uploaded at
//   - isNew: whether the group was bound this frame
//
// Returns:
//   - DirtyMask: the slots to upload
func ComputeDirtyMask(g scene.InstanceGroup, props []property.Descriptor, lastProcessed uint64, isNew bool) DirtyMask {
	if isNew || g.OrderVersion() > lastProcessed {
		return FullMask(len(props))
	}
	var m DirtyMask
	for slot, d := range props {
		if d.Kind.Derived() {
			continue
		}
		if g.PropertyVersion(d.TypeIndex) > lastProcessed {
			m.Set(slot)
		}
	}
	return m
}
