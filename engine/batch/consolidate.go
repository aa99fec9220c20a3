package batch

import (
	"cmp"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/heap"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
)

type candidate struct {
	group scene.InstanceGroup
	key   Key
	info  *layoutInfo
}

func sortByIndex(props []property.Descriptor) {
	slices.SortFunc(props, func(a, b property.Descriptor) int { return cmp.Compare(a.Index, b.Index) })
}

func (r *registry) ClassifyNewGroups(groups []scene.InstanceGroup) []scene.InstanceGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []scene.InstanceGroup
	for _, g := range groups {
		if _, bound := r.bindings[g.ID()]; bound {
			continue
		}
		if _, reason := r.validate(g); reason != "" {
			r.reportInvalid(g, reason)
			continue
		}
		out = append(out, g)
	}
	return out
}

func (r *registry) ConsolidateAndAllocate(groups []scene.InstanceGroup) ConsolidateResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consolidate(groups)
}

func (r *registry) consolidate(groups []scene.InstanceGroup) ConsolidateResult {
	var res ConsolidateResult
	if len(groups) == 0 {
		return res
	}

	cands := make([]candidate, 0, len(groups))
	for _, g := range groups {
		if _, bound := r.bindings[g.ID()]; bound {
			continue
		}
		info, reason := r.validate(g)
		if reason != "" {
			r.reportInvalid(g, reason)
			continue
		}
		cands = append(cands, candidate{group: g, key: KeyOf(g), info: info})
	}

	// Equal keys become adjacent, so runs are found in one linear scan.
	slices.SortFunc(cands, func(a, b candidate) int {
		return cmp.Or(a.key.Compare(b.key), cmp.Compare(a.group.ID(), b.group.ID()))
	})

	for i := 0; i < len(cands); {
		run := cands[i].key
		limit := cands[i].info.maxEntities
		total := cands[i].group.Capacity()
		j := i + 1
		for j < len(cands) && cands[j].key == run && total+cands[j].group.Capacity() <= limit {
			total += cands[j].group.Capacity()
			j++
		}

		id, ok := r.finalizeBatch(cands[i:j], total)
		if !ok {
			for _, c := range cands[i:] {
				res.Rejected = append(res.Rejected, c.group.ID())
			}
			break
		}
		res.Batches = append(res.Batches, id)
		i = j
	}
	return res
}

// finalizeBatch allocates and registers one batch for a run of compatible groups. Nothing is registered
// when either allocation fails.
func (r *registry) finalizeBatch(run []candidate, capacity int) (ID, bool) {
	info := run[0].info
	props := make([]Property, len(info.props))
	var total uint64
	for p, d := range info.props {
		size := common.AlignUp(uint64(d.SizeBytesGPU)*uint64(capacity), StreamAlignment)
		props[p] = Property{Descriptor: d, StreamBegin: total, StreamSize: size}
		total += size
	}

	gpu := r.gpuHeap.Allocate(total, StreamAlignment)
	if gpu.Empty() {
		r.allocationFailed("instance-data", r.gpuHeap, total, run)
		return InvalidID, false
	}
	records := uint64(len(props) * len(run))
	meta := r.metaHeap.Allocate(records, 1)
	if meta.Empty() {
		r.gpuHeap.Release(gpu)
		r.allocationFailed("metadata", r.metaHeap, records, run)
		return InvalidID, false
	}
	for p := range props {
		props[p].StreamBegin += gpu.Begin
	}

	id := r.allocateID()
	b := &Batch{
		id:          id,
		key:         run[0].key,
		layout:      run[0].group.Layout(),
		gpu:         gpu,
		metadata:    meta,
		properties:  props,
		descs:       info.props,
		slots:       make([]Slot, len(run)),
		dirty:       make([]DirtyMask, len(run)),
		bounds:      make([]common.AABB, len(run)),
		lods:        make([][]float32, len(run)),
		capacity:    capacity,
		maxEntities: info.maxEntities,
		perInstance: info.perInstance,
	}

	full := FullMask(len(props))
	begin := 0
	for s, c := range run {
		g := c.group
		b.slots[s] = Slot{Group: g.ID(), InstanceBegin: begin, Capacity: g.Capacity()}
		b.dirty[s] = full
		b.bounds[s] = g.LocalBounds()
		b.lods[s] = g.LODDistances()
		for p, prop := range props {
			r.writeRecord(b.MetadataIndex(p, s), ChunkProperty{
				TypeIndex:    int32(prop.Descriptor.TypeIndex),
				GPUDataBegin: uint32(b.GPUDataBegin(p, s)),
				SizeCPU:      prop.Descriptor.SizeBytesCPU,
				SizeGPU:      prop.Descriptor.SizeBytesGPU,
			})
		}
		r.bindings[g.ID()] = &binding{
			Binding:       Binding{Batch: id, Slot: s, InstanceBegin: begin},
			lastProcessed: r.processed,
			seenFrame:     r.frame,
		}
		begin += g.Capacity()
	}
	r.pending = append(r.pending, meta)
	r.batches[id] = b

	r.logger.Debug("batch created",
		"batch", id,
		"groups", len(run),
		"instances", capacity,
		"gpu", gpu.String(),
		"metadata", meta.String(),
	)
	return id, true
}

func (r *registry) allocationFailed(heapName string, h heap.Allocator, requested uint64, run []candidate) {
	attrs := []any{
		"heap", heapName,
		"requested", requested,
		"free", h.FreeSpace(),
		"largest_free", h.LargestFreeRange(),
		"first_group", run[0].group.ID(),
		"groups", len(run),
	}
	if r.failLimiter.Allow() {
		r.logger.Error("batch allocation failed, groups deferred to next frame", attrs...)
		return
	}
	r.logger.Debug("batch allocation failed, groups deferred to next frame", attrs...)
}
