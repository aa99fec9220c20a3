package culling

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// candidate is one instance that survived the frustum stage.
type candidate struct {
	index    uint32 // batch-relative
	center   [3]float32
	lods     []float32
	lodMask  uint8
	mirrored bool
}

// batchWork is the private state of one batch task. Tasks never share a batchWork.
type batchWork struct {
	b           *batch.Batch
	candidates  []candidate
	deformation Ref
	visible     *roaring.Bitmap
	cmds        []DrawCommand
}

// SelectLOD returns the LOD level for a scaled distance: the index of the first threshold the
// distance is below, or len(thresholds) past the last one.
func SelectLOD(distance float32, thresholds []float32) int {
	for i, t := range thresholds {
		if distance < t {
			return i
		}
	}
	return len(thresholds)
}

// LODVisible reports whether a level is enabled in a bit-per-level mask.
func LODVisible(mask uint8, level int) bool {
	return level >= 0 && level < 8 && mask&(1<<level) != 0
}

// runStages culls every batch in parallel and merges the per-batch output in batch id order.
func (p *pipeline) runStages(ctx context.Context, params Parameters, result *PassResult) error {
	batches := p.registry.Batches()
	work := make([]*batchWork, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, b := range batches {
		if params.View == ViewShadow && !b.Identity().Flags.Has(scene.FlagShadowCaster) {
			continue
		}
		w := &batchWork{b: b}
		work[i] = w
		g.Go(func() error {
			arena, err := p.acquireArena(gctx)
			if err != nil {
				return err
			}
			defer p.releaseArena(arena)
			return p.cullBatch(params, arena, w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, w := range work {
		if w == nil || w.visible == nil || w.visible.IsEmpty() {
			continue
		}
		result.Visible[w.b.ID()] = w.visible
		result.VisibleCount += int(w.visible.GetCardinality())
		result.DrawCommands = append(result.DrawCommands, w.cmds...)
	}
	return nil
}

// cullBatch runs the stages in order against one batch.
func (p *pipeline) cullBatch(params Parameters, arena *Arena, w *batchWork) error {
	p.frustumStage(params, w)
	p.lodStage(params, w)
	if len(w.candidates) == 0 {
		return nil
	}
	if err := p.deformationStage(arena, w); err != nil {
		return err
	}
	return p.emitStage(arena, w)
}

// frustumStage keeps the instances whose world bounds intersect the view frustum.
func (p *pipeline) frustumStage(params Parameters, w *batchWork) {
	for s := range w.b.SlotCount() {
		slot := w.b.Slot(s)
		if slot.Vacant {
			continue
		}
		if params.Filter != nil && !params.Filter.Contains(uint32(slot.Group)) {
			continue
		}
		g, ok := p.scene.Group(slot.Group)
		if !ok {
			continue
		}
		local, lods := w.b.SlotBounds(s)
		for i := range min(g.Count(), slot.Capacity) {
			m := g.Transform(i)
			box := common.TransformAABB(local, m)
			if !params.Frustum.IntersectsAABB(box) {
				continue
			}
			w.candidates = append(w.candidates, candidate{
				index:    uint32(slot.InstanceBegin + i),
				center:   box.Center,
				lods:     lods,
				lodMask:  g.LODMask(i),
				mirrored: common.Determinant3(m[:]) < 0,
			})
		}
	}
}

// lodStage drops instances whose selected LOD level is masked out.
func (p *pipeline) lodStage(params Parameters, w *batchWork) {
	kept := w.candidates[:0]
	for _, c := range w.candidates {
		level := SelectLOD(common.Distance(c.center, params.LODOrigin)*params.LODScale, c.lods)
		if LODVisible(c.lodMask, level) {
			kept = append(kept, c)
		}
	}
	w.candidates = kept
}

// deformationStage reserves deformation output for every visible instance of a deformed batch.
func (p *pipeline) deformationStage(arena *Arena, w *batchWork) error {
	if !w.b.Identity().Flags.Has(scene.FlagDeformed) || p.deformationWords == 0 {
		return nil
	}
	ref, err := arena.Alloc(len(w.candidates) * p.deformationWords)
	if err != nil {
		return fmt.Errorf("batch %d deformation: %w", w.b.ID(), err)
	}
	w.deformation = ref
	return nil
}

// emitStage writes the visible indices into the arena and emits one draw command per winding.
func (p *pipeline) emitStage(arena *Arena, w *batchWork) error {
	var front, mirrored []uint32
	for _, c := range w.candidates {
		if c.mirrored {
			mirrored = append(mirrored, c.index)
		} else {
			front = append(front, c.index)
		}
	}

	identity := w.b.Identity()
	var base DrawFlags
	if identity.Flags.Has(scene.FlagDeformed) {
		base |= DrawDeformed
	}
	if identity.Flags.Has(scene.FlagShadowCaster) {
		base |= DrawShadowCaster
	}

	w.visible = roaring.New()
	deformOffset := 0
	for _, run := range []struct {
		indices []uint32
		flags   DrawFlags
	}{{front, base}, {mirrored, base | DrawFlipWinding}} {
		if len(run.indices) == 0 {
			continue
		}
		ref, err := arena.Alloc(len(run.indices))
		if err != nil {
			return fmt.Errorf("batch %d draw indices: %w", w.b.ID(), err)
		}
		words, err := arena.Resolve(ref)
		if err != nil {
			return err
		}
		copy(words, run.indices)
		w.visible.AddMany(run.indices)

		cmd := DrawCommand{
			Batch:     w.b.ID(),
			Mesh:      identity.Mesh,
			Material:  identity.Material,
			Flags:     run.flags,
			Instances: ref,
			Count:     uint32(len(run.indices)),
		}
		if !w.deformation.IsZero() {
			n := len(run.indices) * p.deformationWords
			cmd.Deformation = w.deformation.Slice(deformOffset, n)
			deformOffset += n
		}
		w.cmds = append(w.cmds, cmd)
	}
	return nil
}
