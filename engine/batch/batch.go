// package batch packs InstanceGroups into GPU-resident batches. It owns the batch id space, the GPU
// instance-data heap and the metadata heap, tracks which property streams changed each frame, and
// garbage-collects batches whose groups are gone.
package batch

import (
	"cmp"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/heap"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
)

// ID is a stable batch identifier. IDs are dense and the lowest free one is reused first.
type ID int32

// InvalidID marks the absence of a batch.
const InvalidID ID = -1

// StreamAlignment is the alignment of every per-property stream inside a batch allocation.
const StreamAlignment = 16

// Key is the consolidation key. Groups with equal keys may share a batch.
type Key struct {
	Identity     scene.RenderIdentity
	LayoutHash   uint64
	OverrideHash uint64
}

// KeyOf returns the consolidation key of a group.
func KeyOf(g scene.InstanceGroup) Key {
	return Key{
		Identity:     g.Identity(),
		LayoutHash:   g.Layout().Hash(),
		OverrideHash: g.OverrideHash(),
	}
}

// Compare orders keys by identity, then layout hash, then override hash.
func (k Key) Compare(o Key) int {
	return cmp.Or(
		k.Identity.Compare(o.Identity),
		cmp.Compare(k.LayoutHash, o.LayoutHash),
		cmp.Compare(k.OverrideHash, o.OverrideHash),
	)
}

// Property is one per-property stream of a batch.
type Property struct {
	Descriptor  property.Descriptor
	StreamBegin uint64 // absolute offset in the GPU heap
	StreamSize  uint64 // aligned to StreamAlignment
}

// Slot is one group's place inside a batch.
type Slot struct {
	Group         scene.GroupID
	InstanceBegin int // first instance index of the group inside every stream
	Capacity      int
	Vacant        bool // the group was destroyed; the slot stays reserved until the batch dies
}

// Binding tells where a group lives.
type Binding struct {
	Batch         ID
	Slot          int
	InstanceBegin int
}

// Batch is a GPU-resident aggregation of groups sharing one consolidation key and one allocation.
// A Batch is mutated only by the registry's coordinating goroutine; the per-slot dirty masks are written
// by update tasks, each into its own slot.
type Batch struct {
	id          ID
	key         Key
	layout      scene.Layout
	gpu         heap.Block
	metadata    heap.Block
	properties  []Property
	descs       []property.Descriptor
	slots       []Slot
	dirty       []DirtyMask
	bounds      []common.AABB
	lods        [][]float32
	capacity    int
	maxEntities int
	perInstance uint32
}

// ID returns the batch id.
func (b *Batch) ID() ID { return b.id }

// Key returns the consolidation key shared by every member group.
func (b *Batch) Key() Key { return b.key }

// Identity returns the rendering identity shared by every member group.
func (b *Batch) Identity() scene.RenderIdentity { return b.key.Identity }

// Layout returns the property layout shared by every member group.
func (b *Batch) Layout() scene.Layout { return b.layout }

// GPUBlock returns the batch's instance-data allocation.
func (b *Batch) GPUBlock() heap.Block { return b.gpu }

// MetadataBlock returns the batch's metadata allocation in record units.
func (b *Batch) MetadataBlock() heap.Block { return b.metadata }

// Properties returns the tracked property streams in slot order. The slice must not be modified.
func (b *Batch) Properties() []Property { return b.properties }

// Slots returns a copy of the batch's group slots.
func (b *Batch) Slots() []Slot {
	out := make([]Slot, len(b.slots))
	copy(out, b.slots)
	return out
}

// SlotCount returns the number of group slots, vacant ones included.
func (b *Batch) SlotCount() int { return len(b.slots) }

// Slot returns one slot.
func (b *Batch) Slot(i int) Slot { return b.slots[i] }

// SlotBounds returns the local bounds and LOD distances of the group in slot i.
func (b *Batch) SlotBounds(i int) (common.AABB, []float32) { return b.bounds[i], b.lods[i] }

// Dirty returns the accumulated dirty mask of slot i.
func (b *Batch) Dirty(i int) DirtyMask { return b.dirty[i] }

// Capacity returns the number of instances the batch has room for (sum of member group capacities).
func (b *Batch) Capacity() int { return b.capacity }

// MaxEntities returns the instance limit derived from the byte budget for this layout.
func (b *Batch) MaxEntities() int { return b.maxEntities }

// BytesPerInstance returns the summed GPU size of every tracked property.
func (b *Batch) BytesPerInstance() uint32 { return b.perInstance }

// GPUDataBegin returns where slot i's values of property p begin in the GPU heap.
func (b *Batch) GPUDataBegin(p, i int) uint64 {
	prop := b.properties[p]
	return prop.StreamBegin + uint64(b.slots[i].InstanceBegin)*uint64(prop.Descriptor.SizeBytesGPU)
}

// MetadataIndex returns the metadata record index of (slot i, property p), ordered group-major.
func (b *Batch) MetadataIndex(p, i int) uint64 {
	return b.metadata.Begin + uint64(i*len(b.properties)+p)
}

// LiveSlots returns the number of non-vacant slots.
func (b *Batch) LiveSlots() int {
	n := 0
	for _, s := range b.slots {
		if !s.Vacant {
			n++
		}
	}
	return n
}
