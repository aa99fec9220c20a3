package scene

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
)

// InstanceGroup is a fixed-capacity, contiguously stored set of instances that share one layout and
// one rendering identity. Every property of the layout is a separate stream of Count() values.
type InstanceGroup interface {
	// ID returns the group's scene-unique id.
	ID() GroupID

	// Layout returns the group's property layout.
	Layout() Layout

	// Identity returns the group's rendering identity.
	Identity() RenderIdentity

	// SharedOverrides returns the shared-component override values the group was created with.
	SharedOverrides() []byte

	// OverrideHash returns the xxh3 hash of SharedOverrides, 0 when there are none.
	OverrideHash() uint64

	// Capacity returns the maximum number of instances.
	Capacity() int

	// Count returns the current number of instances.
	Count() int

	// LocalBounds returns the object-space bounds shared by every instance.
	LocalBounds() common.AABB

	// LODDistances returns the ascending LOD switch distances.
	LODDistances() []float32

	// AddInstance appends an instance initialized with each property's default value (identity for
	// transforms, zero otherwise) and a LOD mask of 0xFF.
	//
	// Returns:
	//   - int: the new instance's index
	//   - error: ErrGroupFull at capacity
	AddInstance() (int, error)

	// RemoveInstance removes an instance by moving the last instance into its slot.
	// This changes storage order, so every stream must be uploaded again.
	//
	// Parameters:
	//   - index: the instance to remove
	//
	// Returns:
	//   - error: ErrIndexOutOfRange
	RemoveInstance(index int) error

	// SwapInstances exchanges two instances in every stream.
	//
	// Parameters:
	//   - i, j: the instances to swap
	//
	// Returns:
	//   - error: ErrIndexOutOfRange
	SwapInstances(i, j int) error

	// SetTransform writes an instance's object-to-world transform. If the layout stores the previous
	// transform, the old value is moved there first.
	//
	// Parameters:
	//   - index: the instance
	//   - m: the column-major object-to-world matrix
	//
	// Returns:
	//   - error: ErrIndexOutOfRange or ErrNotInLayout
	SetTransform(index int, m [16]float32) error

	// Transform returns an instance's object-to-world transform, identity if the layout has none.
	Transform(index int) [16]float32

	// SetProperty writes one instance's value of one property.
	//
	// Parameters:
	//   - t: the property type
	//   - index: the instance
	//   - value: exactly SizeBytesCPU bytes
	//
	// Returns:
	//   - error: ErrNotInLayout, ErrIndexOutOfRange or ErrSizeMismatch
	SetProperty(t property.TypeIndex, index int, value []byte) error

	// PropertyData returns the stream of one property, Count()*SizeBytesCPU bytes.
	// The slice aliases group storage and is only valid until the next write to the group.
	PropertyData(t property.TypeIndex) []byte

	// PropertyVersion returns the stamp of the last write to a property stream, 0 if absent.
	PropertyVersion(t property.TypeIndex) uint64

	// OrderVersion returns the stamp of the last storage reorder.
	OrderVersion() uint64

	// CreatedVersion returns the stamp the group was created at.
	CreatedVersion() uint64

	// SetLODMask sets which LOD levels an instance may be drawn at, one bit per level.
	SetLODMask(index int, mask uint8) error

	// LODMask returns an instance's LOD mask, 0 for an invalid index.
	LODMask(index int) uint8
}

type stream struct {
	desc    property.Descriptor
	data    []byte
	version uint64
}

type group struct {
	mu *sync.RWMutex

	id           GroupID
	def          Definition
	overrideHash uint64
	version      *atomic.Uint64

	count         int
	streams       map[property.TypeIndex]*stream
	transform     *stream
	prevTransform *stream
	lodMask       []uint8

	created      uint64
	orderVersion uint64
}

// Ensure group implements InstanceGroup interface.
var _ InstanceGroup = &group{}

func (g *group) ID() GroupID              { return g.id }
func (g *group) Layout() Layout           { return g.def.Layout }
func (g *group) Identity() RenderIdentity { return g.def.Identity }
func (g *group) SharedOverrides() []byte  { return g.def.SharedOverrides }
func (g *group) OverrideHash() uint64     { return g.overrideHash }
func (g *group) Capacity() int            { return g.def.Capacity }
func (g *group) LocalBounds() common.AABB { return g.def.LocalBounds }
func (g *group) LODDistances() []float32  { return g.def.LODDistances }
func (g *group) CreatedVersion() uint64   { return g.created }

func (g *group) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

func (g *group) AddInstance() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count >= g.def.Capacity {
		return -1, fmt.Errorf("group %d add instance: %w", g.id, ErrGroupFull)
	}
	now := g.version.Load()
	for _, st := range g.streams {
		size := int(st.desc.SizeBytesCPU)
		st.data = append(st.data, make([]byte, size)...)
		slot := st.data[g.count*size:]
		switch {
		case st.desc.HasDefault():
			copy(slot, st.desc.Default)
		case st.desc.Kind != property.KindValue:
			common.PutMatrix(slot, common.IdentityMatrix)
		}
		st.version = now
	}
	g.lodMask = append(g.lodMask, 0xFF)
	g.count++
	return g.count - 1, nil
}

func (g *group) RemoveInstance(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < 0 || index >= g.count {
		return fmt.Errorf("group %d remove instance %d: %w", g.id, index, ErrIndexOutOfRange)
	}
	last := g.count - 1
	for _, st := range g.streams {
		size := int(st.desc.SizeBytesCPU)
		if index != last {
			copy(st.data[index*size:(index+1)*size], st.data[last*size:])
		}
		st.data = st.data[:last*size]
	}
	g.lodMask[index] = g.lodMask[last]
	g.lodMask = g.lodMask[:last]
	g.count--
	g.orderVersion = g.version.Load()
	return nil
}

func (g *group) SwapInstances(i, j int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i < 0 || i >= g.count || j < 0 || j >= g.count {
		return fmt.Errorf("group %d swap %d/%d: %w", g.id, i, j, ErrIndexOutOfRange)
	}
	if i == j {
		return nil
	}
	for _, st := range g.streams {
		size := int(st.desc.SizeBytesCPU)
		a := st.data[i*size : (i+1)*size]
		b := st.data[j*size : (j+1)*size]
		for k := range a {
			a[k], b[k] = b[k], a[k]
		}
	}
	g.lodMask[i], g.lodMask[j] = g.lodMask[j], g.lodMask[i]
	g.orderVersion = g.version.Load()
	return nil
}

func (g *group) SetTransform(index int, m [16]float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.transform == nil {
		return fmt.Errorf("group %d set transform: %w", g.id, ErrNotInLayout)
	}
	if index < 0 || index >= g.count {
		return fmt.Errorf("group %d set transform %d: %w", g.id, index, ErrIndexOutOfRange)
	}
	now := g.version.Load()
	off := index * property.MatrixSizeCPU
	if g.prevTransform != nil {
		copy(g.prevTransform.data[off:off+property.MatrixSizeCPU], g.transform.data[off:])
		g.prevTransform.version = now
	}
	common.PutMatrix(g.transform.data[off:], m)
	g.transform.version = now
	return nil
}

func (g *group) Transform(index int) [16]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.transform == nil || index < 0 || index >= g.count {
		return common.IdentityMatrix
	}
	return common.ReadMatrix(g.transform.data[index*property.MatrixSizeCPU:])
}

func (g *group) SetProperty(t property.TypeIndex, index int, value []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.streams[t]
	if !ok {
		return fmt.Errorf("group %d set property %d: %w", g.id, t, ErrNotInLayout)
	}
	if index < 0 || index >= g.count {
		return fmt.Errorf("group %d set property %d[%d]: %w", g.id, t, index, ErrIndexOutOfRange)
	}
	size := int(st.desc.SizeBytesCPU)
	if len(value) != size {
		return fmt.Errorf("group %d set property %d: %d bytes, want %d: %w", g.id, t, len(value), size, ErrSizeMismatch)
	}
	copy(st.data[index*size:], value)
	st.version = g.version.Load()
	return nil
}

func (g *group) PropertyData(t property.TypeIndex) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.streams[t]
	if !ok {
		return nil
	}
	return st.data
}

func (g *group) PropertyVersion(t property.TypeIndex) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.streams[t]
	if !ok {
		return 0
	}
	return st.version
}

func (g *group) OrderVersion() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.orderVersion
}

func (g *group) SetLODMask(index int, mask uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index < 0 || index >= g.count {
		return fmt.Errorf("group %d set lod mask %d: %w", g.id, index, ErrIndexOutOfRange)
	}
	g.lodMask[index] = mask
	return nil
}

func (g *group) LODMask(index int) uint8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if index < 0 || index >= g.count {
		return 0
	}
	return g.lodMask[index]
}
