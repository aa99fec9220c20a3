package culling

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/heap"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/renderer"
)

// DispatchReport describes one frame dispatch.
type DispatchReport struct {
	Frame         uint64
	Dispatched    bool
	Writes        int
	Bytes         uint64
	ZeroBlits     int
	DefaultBlits  int
	ValueBlits    int
	MetadataBlits int
	InstanceBytes uint64 // instance-data buffer capacity after growth
	MetadataBytes uint64 // metadata buffer capacity after growth
	Err           error  // set when the dispatch failed; its uploads are retried next frame
}

// zeroBlitPlan holds the one-time blits of a dispatch until its upload is accepted.
type zeroBlitPlan struct {
	defaults bool
	batches  map[batch.ID]uint64 // batch id -> GPU block begin
	live     map[batch.ID]struct{}
}

// runDispatch builds and submits the frame's uploads once. Failures are logged and kept for EndFrame.
func (p *pipeline) runDispatch(ctx context.Context) {
	p.dispatched = true
	p.report.Dispatched = true
	if err := p.dispatch(ctx); err != nil {
		p.logger.Error("frame dispatch failed", "frame", p.frame, "error", err)
		p.report.Err = err
	}
}

// dispatch grows the buffers to the heaps' high-water marks, collects the zero, default, value and
// metadata blits into one upload and hands the frame to the submitter. Nothing is marked as uploaded
// unless the upload is accepted.
func (p *pipeline) dispatch(ctx context.Context) error {
	pending := p.registry.PendingMetadata()
	instanceSize := p.registry.GPUHeap().OnePastHighestUsedAddress()
	metadataRecords := p.registry.MetadataHeap().OnePastHighestUsedAddress()
	// Ranges released before they were ever uploaded can lie above the high-water mark.
	for _, block := range pending {
		metadataRecords = max(metadataRecords, block.End)
	}
	metadataSize := metadataRecords * batch.ChunkPropertySize
	if err := p.renderer.EnsureCapacity(renderer.BufferInstanceData, instanceSize); err != nil {
		return fmt.Errorf("grow instance data: %w", err)
	}
	if err := p.renderer.EnsureCapacity(renderer.BufferMetadata, metadataSize); err != nil {
		return fmt.Errorf("grow metadata: %w", err)
	}
	p.report.InstanceBytes = p.renderer.Capacity(renderer.BufferInstanceData)
	p.report.MetadataBytes = p.renderer.Capacity(renderer.BufferMetadata)

	var writes []renderer.BufferWrite
	writes, plan := p.appendZeroBlits(writes)
	writes = p.appendValueBlits(writes)
	writes = p.appendMetadataBlits(writes, pending)

	handle, err := p.renderer.WriteBuffers(writes)
	if err != nil {
		return fmt.Errorf("write buffers: %w", err)
	}
	p.collect(handle)
	p.commitZeroBlits(plan)
	p.registry.ClearDirty()
	p.registry.ClearPendingMetadata()

	p.report.Writes = len(writes)
	for _, w := range writes {
		p.report.Bytes += uint64(len(w.Data))
	}

	handle, err = p.submitter.SubmitDispatch(ctx, p.frame)
	if err != nil {
		return fmt.Errorf("submit dispatch: %w", err)
	}
	p.collect(handle)
	return nil
}

// appendZeroBlits adds the defaults block until it has been uploaded once, and clears the allocation of
// every batch not yet zeroed at its current block, so capacity past the live instances never holds
// another batch's stale values.
func (p *pipeline) appendZeroBlits(writes []renderer.BufferWrite) ([]renderer.BufferWrite, zeroBlitPlan) {
	plan := zeroBlitPlan{
		batches: make(map[batch.ID]uint64),
		live:    make(map[batch.ID]struct{}),
	}
	if !p.defaultsUp {
		if block := p.registry.DefaultsBlock(); !block.Empty() {
			writes = append(writes, renderer.BufferWrite{
				Buffer: renderer.BufferInstanceData,
				Offset: block.Begin,
				Data:   p.registry.DefaultsData(),
			})
			p.report.DefaultBlits++
		}
		plan.defaults = true
	}

	for _, b := range p.registry.Batches() {
		plan.live[b.ID()] = struct{}{}
		block := b.GPUBlock()
		if begin, ok := p.initialized[b.ID()]; ok && begin == block.Begin {
			continue
		}
		plan.batches[b.ID()] = block.Begin
		writes = append(writes, renderer.BufferWrite{
			Buffer: renderer.BufferInstanceData,
			Offset: block.Begin,
			Data:   make([]byte, block.Length()),
		})
		p.report.ZeroBlits++
	}
	return writes, plan
}

// commitZeroBlits records an accepted plan and forgets batches that no longer exist.
func (p *pipeline) commitZeroBlits(plan zeroBlitPlan) {
	if plan.defaults {
		p.defaultsUp = true
	}
	for id, begin := range plan.batches {
		p.initialized[id] = begin
	}
	for id := range p.initialized {
		if _, ok := plan.live[id]; !ok {
			delete(p.initialized, id)
		}
	}
}

// appendValueBlits uploads every dirty property stream of every bound group. Transform kinds are
// packed with the catalog's packer; other values are copied into their GPU stride.
func (p *pipeline) appendValueBlits(writes []renderer.BufferWrite) []renderer.BufferWrite {
	packer := p.registry.Catalog().TransformPacker()
	p.registry.ForEachDirty(func(b *batch.Batch, s int, mask batch.DirtyMask) {
		slot := b.Slot(s)
		g, ok := p.scene.Group(slot.Group)
		if !ok {
			return
		}
		count := min(g.Count(), slot.Capacity)
		if count == 0 {
			return
		}
		for i, prop := range b.Properties() {
			if !mask.Has(i) {
				continue
			}
			desc := prop.Descriptor
			src := g.PropertyData(desc.TypeIndex)
			data := packStream(desc, packer, src, count)
			writes = append(writes, renderer.BufferWrite{
				Buffer: renderer.BufferInstanceData,
				Offset: b.GPUDataBegin(i, s),
				Data:   data,
			})
			p.report.ValueBlits++
		}
	})
	return writes
}

// packStream converts count CPU values into their GPU representation.
func packStream(desc property.Descriptor, packer property.TransformPacker, src []byte, count int) []byte {
	sizeCPU := int(desc.SizeBytesCPU)
	sizeGPU := int(desc.SizeBytesGPU)
	out := make([]byte, count*sizeGPU)
	switch {
	case desc.Kind.Transform() && sizeGPU == int(packer.SizeGPU()):
		for i := range count {
			packer.Pack(out[i*sizeGPU:(i+1)*sizeGPU], src[i*sizeCPU:(i+1)*sizeCPU])
		}
	case sizeCPU == sizeGPU:
		copy(out, src[:count*sizeCPU])
	default:
		n := min(sizeCPU, sizeGPU)
		for i := range count {
			copy(out[i*sizeGPU:i*sizeGPU+n], src[i*sizeCPU:])
		}
	}
	return out
}

// appendMetadataBlits uploads the record ranges the registry changed since the last accepted dispatch.
func (p *pipeline) appendMetadataBlits(writes []renderer.BufferWrite, pending []heap.Block) []renderer.BufferWrite {
	for _, block := range pending {
		records := p.registry.Metadata(block.Begin, block.Length())
		if len(records) == 0 {
			continue
		}
		writes = append(writes, renderer.BufferWrite{
			Buffer: renderer.BufferMetadata,
			Offset: block.Begin * batch.ChunkPropertySize,
			Data:   batch.MarshalChunkProperties(records),
		})
		p.report.MetadataBlits++
	}
	return writes
}
