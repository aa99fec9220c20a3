package batch

import (
	"context"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
)

// minGroupsPerTask keeps tiny scenes from paying one task per group.
const minGroupsPerTask = 64

type classifyResult struct {
	newGroups []scene.InstanceGroup
	invalid   []invalidGroup
}

type invalidGroup struct {
	group  scene.InstanceGroup
	reason string
}

func (r *registry) Update(ctx context.Context, sc scene.Scene) (FrameReport, error) {
	if err := ctx.Err(); err != nil {
		return FrameReport{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed = sc.AdvanceVersion()
	r.frame++
	frame := r.frame
	report := FrameReport{Frame: frame, Processed: r.processed}

	groups := sc.Groups()
	report.Groups = len(groups)

	r.gc.Begin(r.live, r.batchIndexRange())

	// Parallel phase: every task reads bindings and writes only the dirty masks and binding stamps of
	// its own groups. The index arrays are not grown until the barrier below has passed.
	results := r.classifyParallel(groups, frame)

	for _, id := range r.gc.Sweep() {
		if r.removeBatch(id) {
			report.RemovedBatches = append(report.RemovedBatches, id)
		}
	}
	for gid, bd := range r.bindings {
		if bd.seenFrame != frame {
			r.vacate(gid, bd)
			report.VacatedSlots++
		}
	}

	var pending []scene.InstanceGroup
	for _, res := range results {
		pending = append(pending, res.newGroups...)
		for _, inv := range res.invalid {
			r.reportInvalid(inv.group, inv.reason)
			report.InvalidGroups = append(report.InvalidGroups, inv.group.ID())
		}
	}
	report.NewGroups = len(pending)

	cres := r.consolidate(pending)
	report.NewBatches = cres.Batches
	report.Rejected = cres.Rejected
	report.LiveBatches = int(r.live.GetCardinality())

	r.logger.Debug("batch update",
		"frame", frame,
		"groups", report.Groups,
		"new_groups", report.NewGroups,
		"new_batches", len(report.NewBatches),
		"removed_batches", len(report.RemovedBatches),
		"vacated", report.VacatedSlots,
		"rejected", len(report.Rejected),
		"live_batches", report.LiveBatches,
	)
	return report, nil
}

func (r *registry) classifyParallel(groups []scene.InstanceGroup, frame uint64) []classifyResult {
	if len(groups) == 0 {
		return nil
	}
	per := max(minGroupsPerTask, (len(groups)+r.workers-1)/r.workers)
	tasks := (len(groups) + per - 1) / per
	results := make([]classifyResult, tasks)

	// A WaitGroup is the per-frame barrier; pool workers persist across frames.
	var wg sync.WaitGroup
	for t := range tasks {
		lo := t * per
		hi := min(lo+per, len(groups))
		wg.Add(1)
		chunk := groups[lo:hi]
		slot := &results[t]
		r.pool.SubmitTask(worker.Task{
			ID: t,
			Do: func() (any, error) {
				defer wg.Done()
				r.classifyChunk(chunk, frame, slot)
				return nil, nil
			},
		})
	}
	wg.Wait()
	return results
}

// classifyChunk marks referenced batches, accumulates dirty masks of bound groups and collects
// unbound groups. It runs on pool workers.
func (r *registry) classifyChunk(groups []scene.InstanceGroup, frame uint64, out *classifyResult) {
	for _, g := range groups {
		bd, bound := r.bindings[g.ID()]
		if !bound {
			if _, reason := r.validate(g); reason != "" {
				out.invalid = append(out.invalid, invalidGroup{group: g, reason: reason})
				continue
			}
			out.newGroups = append(out.newGroups, g)
			continue
		}

		r.gc.MarkReferenced(bd.Batch)
		bd.seenFrame = frame

		b := r.batches[bd.Batch]
		mask := ComputeDirtyMask(g, b.descs, bd.lastProcessed, false)
		b.dirty[bd.Slot].Or(mask)
		bd.lastProcessed = r.processed
	}
}
