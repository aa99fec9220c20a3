package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/heap"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/time/rate"
)

// defaultsZeroBytes is the size of the all-zero region at the start of the reserved defaults block.
const defaultsZeroBytes = 64

// Registry owns every batch, the id space, both heaps and the CPU mirror of the metadata buffer.
// All mutating methods must be called from one coordinating goroutine; read accessors may be called
// from other goroutines between updates.
type Registry interface {
	// Update runs one frame of batch maintenance against the scene: advance the version, classify and
	// track every group in parallel, collect garbage, vacate slots of destroyed groups and consolidate
	// new groups into batches. Allocation and layout problems are logged and never returned.
	//
	// Parameters:
	//   - ctx: checked once before any work starts
	//   - sc: the scene to read groups from
	//
	// Returns:
	//   - FrameReport: what happened this frame
	//   - error: only ctx.Err()
	Update(ctx context.Context, sc scene.Scene) (FrameReport, error)

	// ClassifyNewGroups returns the groups that have no batch yet and a valid layout, in input order.
	// Groups with invalid layouts are reported once and excluded.
	//
	// Parameters:
	//   - groups: candidate groups
	//
	// Returns:
	//   - []scene.InstanceGroup: groups awaiting consolidation
	ClassifyNewGroups(groups []scene.InstanceGroup) []scene.InstanceGroup

	// ConsolidateAndAllocate packs groups into new batches. Groups are sorted by consolidation key (group
	// id breaks ties) and split into runs of equal keys bounded by the layout's instance limit. When an
	// allocation fails, that batch and every later group of the call are left unbound for retry.
	//
	// Parameters:
	//   - groups: groups returned by ClassifyNewGroups
	//
	// Returns:
	//   - ConsolidateResult: created batches and rejected groups
	ConsolidateAndAllocate(groups []scene.InstanceGroup) ConsolidateResult

	// RemoveBatch releases a batch's allocations, resets its metadata records to the unused sentinel and
	// frees its id. Removing an unknown id is an assertion.
	//
	// Parameters:
	//   - id: the batch to remove
	//
	// Returns:
	//   - bool: false if the id was not live
	RemoveBatch(id ID) bool

	// BatchIndexRange returns the highest live id + 1, 0 when no batch exists.
	BatchIndexRange() uint32

	// Batch looks a batch up by id.
	Batch(id ID) (*Batch, bool)

	// Batches returns every live batch ordered by id.
	Batches() []*Batch

	// BatchCount returns the number of live batches.
	BatchCount() int

	// Binding returns where a group lives.
	Binding(g scene.GroupID) (Binding, bool)

	// Metadata returns a copy of n metadata records starting at record begin.
	Metadata(begin, n uint64) []ChunkProperty

	// MaxEntitiesPerBatch returns the instance limit of a layout, 0 for invalid layouts.
	MaxEntitiesPerBatch(layout scene.Layout) int

	// GPUHeap returns the instance-data heap (byte units).
	GPUHeap() heap.Allocator

	// MetadataHeap returns the metadata heap (record units).
	MetadataHeap() heap.Allocator

	// DefaultsBlock returns the reserved block holding the zero region and the default values.
	DefaultsBlock() heap.Block

	// DefaultsData returns the GPU bytes of the reserved defaults block.
	DefaultsData() []byte

	// DefaultOffset returns where a property's default value lives in the GPU heap, or the zero region
	// for properties without a default.
	DefaultOffset(t property.TypeIndex) uint64

	// ForEachDirty calls fn for every slot with a non-zero dirty mask, batches in id order.
	ForEachDirty(fn func(b *Batch, slot int, mask DirtyMask))

	// ClearDirty resets every dirty mask after the frame's uploads were issued.
	ClearDirty()

	// PendingMetadata returns the metadata record ranges changed since the last ClearPendingMetadata.
	PendingMetadata() []heap.Block

	// ClearPendingMetadata forgets the pending ranges after they were uploaded.
	ClearPendingMetadata()

	// Catalog returns the property catalog.
	Catalog() property.Catalog

	// IndexCapacity returns the current capacity of the batch index arrays.
	IndexCapacity() int

	// Frame returns the number of completed updates.
	Frame() uint64
}

// FrameReport summarizes one Update.
type FrameReport struct {
	Frame          uint64
	Processed      uint64 // version closed by this update
	Groups         int
	NewGroups      int
	NewBatches     []ID
	RemovedBatches []ID
	VacatedSlots   int
	Rejected       []scene.GroupID
	InvalidGroups  []scene.GroupID
	LiveBatches    int
}

// ConsolidateResult lists what one ConsolidateAndAllocate call did.
type ConsolidateResult struct {
	Batches  []ID
	Rejected []scene.GroupID
}

type binding struct {
	Binding
	lastProcessed uint64
	seenFrame     uint64
}

type layoutInfo struct {
	props       []property.Descriptor
	perInstance uint32
	maxEntities int
	invalid     string
}

type registry struct {
	mu *sync.RWMutex

	logger  *slog.Logger
	catalog property.Catalog

	maxBytesPerBatch     uint64
	maxInstancesPerBatch int
	gpuHeapSize          uint64
	metadataCapacity     uint64
	growthFactor         float64
	workers              int
	diagnosticInterval   time.Duration

	gpuHeap  heap.Allocator
	metaHeap heap.Allocator
	metadata []ChunkProperty
	pending  []heap.Block

	defaults       heap.Block
	defaultsData   []byte
	defaultOffsets map[property.TypeIndex]uint64

	batches []*Batch
	live    *roaring.Bitmap
	free    *roaring.Bitmap
	next    uint32

	bindings map[scene.GroupID]*binding
	reported *roaring.Bitmap // invalid groups already diagnosed

	layoutsMu *sync.RWMutex
	layouts   map[uint64]*layoutInfo

	gc          *GarbageCollector
	failLimiter *rate.Limiter
	pool        worker.DynamicWorkerPool
	frame       uint64
	processed   uint64
}

// Ensure registry implements Registry interface.
var _ Registry = &registry{}

// NewRegistry creates a Registry. The catalog is required and must be frozen; NewRegistry panics
// otherwise, and also when the reserved defaults block does not fit the GPU heap.
//
// Parameters:
//   - catalog: the frozen property catalog
//   - options: functional options to further configure the registry
//
// Returns:
//   - Registry: the newly created registry
func NewRegistry(catalog property.Catalog, options ...RegistryBuilderOption) Registry {
	if catalog == nil {
		panic("batch: NewRegistry requires a non-nil Catalog")
	}
	if !catalog.Frozen() {
		panic("batch: NewRegistry requires a frozen Catalog")
	}

	r := &registry{
		mu:                 &sync.RWMutex{},
		logger:             common.NopLogger(),
		catalog:            catalog,
		maxBytesPerBatch:   DefaultMaxBytesPerBatch,
		gpuHeapSize:        DefaultGPUHeapSize,
		metadataCapacity:   DefaultMetadataCapacity,
		growthFactor:       DefaultGrowthFactor,
		workers:            max(runtime.NumCPU()-1, 1),
		diagnosticInterval: DefaultDiagnosticInterval,
		live:               roaring.New(),
		free:               roaring.New(),
		bindings:           make(map[scene.GroupID]*binding),
		reported:           roaring.New(),
		layoutsMu:          &sync.RWMutex{},
		layouts:            make(map[uint64]*layoutInfo),
		gc:                 NewGarbageCollector(),
	}
	for _, option := range options {
		option(r)
	}

	r.gpuHeap = heap.NewAllocator(r.gpuHeapSize, heap.WithName("instance-data"), heap.WithLogger(r.logger))
	r.metaHeap = heap.NewAllocator(r.metadataCapacity, heap.WithName("metadata"), heap.WithLogger(r.logger))
	r.metadata = make([]ChunkProperty, r.metadataCapacity)
	for i := range r.metadata {
		r.metadata[i] = UnusedChunkProperty
	}
	r.failLimiter = rate.NewLimiter(rate.Every(r.diagnosticInterval), 1)

	// Workers persist across frames; the queue of 256 covers typical chunk counts with headroom.
	r.pool = worker.NewDynamicWorkerPool(r.workers, 256, 1*time.Second)

	r.reserveDefaults()
	return r
}

// reserveDefaults allocates the block at the start of the GPU heap that holds the zero region and one
// 16-byte aligned slot per property default.
func (r *registry) reserveDefaults() {
	r.defaultOffsets = make(map[property.TypeIndex]uint64)
	size := uint64(defaultsZeroBytes)
	descs := r.catalog.Descriptors()
	for _, d := range descs {
		if !d.HasDefault() || !d.Uploadable() {
			continue
		}
		r.defaultOffsets[d.TypeIndex] = size
		size += common.AlignUp(uint64(d.SizeBytesGPU), StreamAlignment)
	}

	r.defaults = r.gpuHeap.Allocate(size, StreamAlignment)
	if r.defaults.Empty() {
		panic(fmt.Sprintf("batch: defaults block of %d bytes does not fit a %d byte GPU heap", size, r.gpuHeap.Size()))
	}

	r.defaultsData = make([]byte, size)
	packer := r.catalog.TransformPacker()
	for _, d := range descs {
		off, ok := r.defaultOffsets[d.TypeIndex]
		if !ok {
			continue
		}
		if d.Kind.Transform() {
			packer.Pack(r.defaultsData[off:], d.Default)
		} else {
			copy(r.defaultsData[off:], d.Default)
		}
		r.defaultOffsets[d.TypeIndex] = r.defaults.Begin + off
	}
}

func (r *registry) allocateID() ID {
	var id uint32
	if !r.free.IsEmpty() {
		id = r.free.Minimum()
		r.free.Remove(id)
	} else {
		id = r.next
		r.next++
	}
	r.live.Add(id)

	if int(id) >= len(r.batches) {
		newCap := max(int(float64(len(r.batches))*r.growthFactor), int(id)+1)
		grown := make([]*Batch, newCap)
		copy(grown, r.batches)
		r.logger.Debug("batch index arrays grown", "from", len(r.batches), "to", newCap)
		r.batches = grown
	}
	return ID(id)
}

func (r *registry) freeID(id ID) {
	r.live.Remove(uint32(id))
	r.free.Add(uint32(id))
	for r.next > 0 && r.free.Contains(r.next-1) {
		r.free.Remove(r.next - 1)
		r.next--
	}
}

func (r *registry) lookupLayout(layout scene.Layout) *layoutInfo {
	r.layoutsMu.RLock()
	info, ok := r.layouts[layout.Hash()]
	r.layoutsMu.RUnlock()
	if ok {
		return info
	}

	info = r.buildLayoutInfo(layout)
	r.layoutsMu.Lock()
	r.layouts[layout.Hash()] = info
	r.layoutsMu.Unlock()
	return info
}

func (r *registry) buildLayoutInfo(layout scene.Layout) *layoutInfo {
	info := &layoutInfo{}
	byName := make(map[property.NameID]property.Descriptor)
	for _, t := range layout.Types() {
		d, ok := r.catalog.ByType(t)
		if !ok {
			info.invalid = fmt.Sprintf("unknown property type %d", t)
			return info
		}
		if prev, dup := byName[d.NameID]; dup {
			info.invalid = fmt.Sprintf("conflicting declarations of property %q by types %d and %d", d.Name, prev.TypeIndex, d.TypeIndex)
			return info
		}
		byName[d.NameID] = d
		if d.Uploadable() {
			info.props = append(info.props, d)
		}
	}
	if len(info.props) == 0 {
		info.invalid = "layout has no uploadable property"
		return info
	}
	if len(info.props) > MaxTrackedProperties {
		info.invalid = fmt.Sprintf("layout tracks %d properties, limit is %d", len(info.props), MaxTrackedProperties)
		return info
	}

	// Streams are ordered by registration index.
	sortByIndex(info.props)
	for _, d := range info.props {
		info.perInstance += d.SizeBytesGPU
	}
	info.maxEntities = int(r.maxBytesPerBatch / uint64(info.perInstance))
	if r.maxInstancesPerBatch > 0 {
		info.maxEntities = min(info.maxEntities, r.maxInstancesPerBatch)
	}
	if info.maxEntities == 0 {
		info.invalid = fmt.Sprintf("one instance needs %d bytes, batch budget is %d", info.perInstance, r.maxBytesPerBatch)
	}
	return info
}

// validate returns the layout info of a group, or a reason the group cannot be batched.
func (r *registry) validate(g scene.InstanceGroup) (*layoutInfo, string) {
	info := r.lookupLayout(g.Layout())
	if info.invalid != "" {
		return nil, info.invalid
	}
	if g.Capacity() > info.maxEntities {
		return nil, fmt.Sprintf("group capacity %d exceeds batch limit %d", g.Capacity(), info.maxEntities)
	}
	return info, ""
}

func (r *registry) reportInvalid(g scene.InstanceGroup, reason string) {
	if !r.reported.CheckedAdd(uint32(g.ID())) {
		return
	}
	r.logger.Error("group excluded from rendering: invalid layout", "group", g.ID(), "reason", reason)
}

func (r *registry) writeRecord(index uint64, rec ChunkProperty) {
	if index >= uint64(len(r.metadata)) {
		grown := make([]ChunkProperty, max(index+1, uint64(len(r.metadata))*2))
		copy(grown, r.metadata)
		for i := len(r.metadata); i < len(grown); i++ {
			grown[i] = UnusedChunkProperty
		}
		r.metadata = grown
	}
	r.metadata[index] = rec
}

func (r *registry) RemoveBatch(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeBatch(id)
}

func (r *registry) removeBatch(id ID) bool {
	if !common.Assert(r.logger, id >= 0 && r.live.Contains(uint32(id)), "batch: remove of unused batch id %d", id) {
		return false
	}
	b := r.batches[id]

	for i := b.metadata.Begin; i < b.metadata.End; i++ {
		r.writeRecord(i, UnusedChunkProperty)
	}
	r.pending = append(r.pending, b.metadata)
	for _, s := range b.slots {
		if s.Vacant {
			continue
		}
		if bd, ok := r.bindings[s.Group]; ok && bd.Batch == id {
			delete(r.bindings, s.Group)
		}
	}
	r.gpuHeap.Release(b.gpu)
	r.metaHeap.Release(b.metadata)

	r.batches[id] = nil
	r.freeID(id)
	r.logger.Debug("batch removed", "batch", id, "gpu", b.gpu.String(), "metadata", b.metadata.String())
	return true
}

// vacate detaches a destroyed group from its batch and resets the slot's metadata records.
func (r *registry) vacate(g scene.GroupID, bd *binding) {
	delete(r.bindings, g)
	b := r.batches[bd.Batch]
	if b == nil {
		return
	}
	b.slots[bd.Slot].Vacant = true
	b.dirty[bd.Slot] = DirtyMask{}
	first := b.MetadataIndex(0, bd.Slot)
	n := uint64(len(b.properties))
	for i := first; i < first+n; i++ {
		r.writeRecord(i, UnusedChunkProperty)
	}
	r.pending = append(r.pending, heap.Block{Begin: first, End: first + n})
}

func (r *registry) BatchIndexRange() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batchIndexRange()
}

func (r *registry) batchIndexRange() uint32 {
	if r.live.IsEmpty() {
		return 0
	}
	return r.live.Maximum() + 1
}

func (r *registry) Batch(id ID) (*Batch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.batches) || r.batches[id] == nil {
		return nil, false
	}
	return r.batches[id], true
}

func (r *registry) Batches() []*Batch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Batch, 0, r.live.GetCardinality())
	it := r.live.Iterator()
	for it.HasNext() {
		out = append(out, r.batches[it.Next()])
	}
	return out
}

func (r *registry) BatchCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.live.GetCardinality())
}

func (r *registry) Binding(g scene.GroupID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bd, ok := r.bindings[g]
	if !ok {
		return Binding{}, false
	}
	return bd.Binding, true
}

func (r *registry) Metadata(begin, n uint64) []ChunkProperty {
	r.mu.RLock()
	defer r.mu.RUnlock()
	end := min(begin+n, uint64(len(r.metadata)))
	if begin >= end {
		return nil
	}
	out := make([]ChunkProperty, end-begin)
	copy(out, r.metadata[begin:end])
	return out
}

func (r *registry) MaxEntitiesPerBatch(layout scene.Layout) int {
	info := r.lookupLayout(layout)
	if info.invalid != "" {
		return 0
	}
	return info.maxEntities
}

func (r *registry) GPUHeap() heap.Allocator      { return r.gpuHeap }
func (r *registry) MetadataHeap() heap.Allocator { return r.metaHeap }
func (r *registry) DefaultsBlock() heap.Block    { return r.defaults }
func (r *registry) DefaultsData() []byte         { return r.defaultsData }
func (r *registry) Catalog() property.Catalog    { return r.catalog }

func (r *registry) DefaultOffset(t property.TypeIndex) uint64 {
	if off, ok := r.defaultOffsets[t]; ok {
		return off
	}
	return r.defaults.Begin
}

func (r *registry) ForEachDirty(fn func(b *Batch, slot int, mask DirtyMask)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it := r.live.Iterator()
	for it.HasNext() {
		b := r.batches[it.Next()]
		for i, m := range b.dirty {
			if !m.IsZero() && !b.slots[i].Vacant {
				fn(b, i, m)
			}
		}
	}
}

func (r *registry) ClearDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.live.Iterator()
	for it.HasNext() {
		b := r.batches[it.Next()]
		clear(b.dirty)
	}
}

func (r *registry) PendingMetadata() []heap.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]heap.Block, len(r.pending))
	copy(out, r.pending)
	return out
}

func (r *registry) ClearPendingMetadata() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = r.pending[:0]
}

func (r *registry) IndexCapacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.batches)
}

func (r *registry) Frame() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frame
}
