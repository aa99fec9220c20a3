package scene

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/zeebo/xxh3"
)

// GroupID identifies an InstanceGroup inside its Scene. IDs start at 1 and are never reused.
type GroupID uint32

// Flags carry per-identity rendering switches.
type Flags uint32

const (
	// FlagDeformed marks meshes that need per-pass deformation (skinning) scratch memory.
	FlagDeformed Flags = 1 << iota
	// FlagShadowCaster marks identities that are drawn into shadow passes.
	FlagShadowCaster
)

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// RenderIdentity is the immutable rendering key of a group: which mesh and material it draws with,
// its bounds class and its partition.
type RenderIdentity struct {
	Mesh        uint32
	Material    uint32
	BoundsClass uint32
	Partition   uint32
	Flags       Flags
}

// Compare orders identities field by field.
func (r RenderIdentity) Compare(o RenderIdentity) int {
	return cmp.Or(
		cmp.Compare(r.Mesh, o.Mesh),
		cmp.Compare(r.Material, o.Material),
		cmp.Compare(r.BoundsClass, o.BoundsClass),
		cmp.Compare(r.Partition, o.Partition),
		cmp.Compare(r.Flags, o.Flags),
	)
}

// Layout is the sorted, de-duplicated set of property types a group stores.
type Layout struct {
	types []property.TypeIndex
	hash  uint64
}

// NewLayout builds a Layout from property types in any order; duplicates are dropped.
//
// Parameters:
//   - types: the property types
//
// Returns:
//   - Layout: the canonical layout
func NewLayout(types ...property.TypeIndex) Layout {
	sorted := slices.Clone(types)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	buf := make([]byte, 4*len(sorted))
	for i, t := range sorted {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(t))
	}
	return Layout{types: sorted, hash: xxh3.Hash(buf)}
}

// Types returns a copy of the layout's property types in ascending order.
func (l Layout) Types() []property.TypeIndex { return slices.Clone(l.types) }

// Len returns the number of property types.
func (l Layout) Len() int { return len(l.types) }

// Hash returns the xxh3 hash of the type list.
func (l Layout) Hash() uint64 { return l.hash }

// Contains reports whether the layout stores t.
func (l Layout) Contains(t property.TypeIndex) bool {
	_, ok := slices.BinarySearch(l.types, t)
	return ok
}

// Equal reports whether two layouts store the same types.
func (l Layout) Equal(o Layout) bool { return l.hash == o.hash && slices.Equal(l.types, o.types) }

// HashOverrides hashes a group's shared override values. Groups whose values differ never share a batch.
func HashOverrides(values []byte) uint64 {
	if len(values) == 0 {
		return 0
	}
	return xxh3.Hash(values)
}
