package batch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	typePayload property.TypeIndex = 1 // 64 bytes
	typeColor   property.TypeIndex = 2 // 16 bytes, with default
	typeXform   property.TypeIndex = 3
	typeInverse property.TypeIndex = 4
	typeTint    property.TypeIndex = 5 // shares the name of typeColor
)

type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *captureHandler) WithGroup(string) slog.Handler            { return h }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *captureHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func newTestCatalog(t *testing.T) property.Catalog {
	t.Helper()
	c := property.NewCatalog(property.WithTransformPacker(property.Float4x4Packer{}))
	_, err := c.Register(typePayload, "payload", 64)
	require.NoError(t, err)
	_, err = c.Register(typeColor, "baseColor", 16, property.WithDefaultValue(make([]byte, 16)))
	require.NoError(t, err)
	_, err = c.Register(typeXform, "objectToWorld", property.MatrixSizeCPU, property.WithKind(property.KindObjectToWorld))
	require.NoError(t, err)
	_, err = c.Register(typeInverse, "worldToObject", property.MatrixSizeCPU, property.WithKind(property.KindWorldToObject))
	require.NoError(t, err)
	_, err = c.Register(typeTint, "baseColor", 4, property.WithGPUSize(16))
	require.NoError(t, err)
	c.Freeze()
	return c
}

func addGroup(t *testing.T, sc scene.Scene, mesh uint32, capacity int, types ...property.TypeIndex) scene.InstanceGroup {
	t.Helper()
	g, err := sc.CreateGroup(scene.Definition{
		Layout:   scene.NewLayout(types...),
		Identity: scene.RenderIdentity{Mesh: mesh},
		Capacity: capacity,
	})
	require.NoError(t, err)
	for range capacity {
		_, err := g.AddInstance()
		require.NoError(t, err)
	}
	return g
}

func batchSizes(r Registry) []int {
	var out []int
	for _, b := range r.Batches() {
		n := 0
		for _, s := range b.Slots() {
			n += s.Capacity
		}
		out = append(out, n)
	}
	return out
}

func TestFullMask(t *testing.T) {
	assert.True(t, FullMask(0).IsZero())
	assert.Equal(t, 1, FullMask(1).Count())
	assert.Equal(t, 64, FullMask(64).Count())
	assert.Equal(t, 65, FullMask(65).Count())
	assert.Equal(t, 128, FullMask(128).Count())

	var m DirtyMask
	m.Set(3)
	m.Set(100)
	assert.True(t, m.Has(3))
	assert.True(t, m.Has(100))
	assert.False(t, m.Has(64))
	assert.Equal(t, 2, m.Count())

	var acc DirtyMask
	acc.Or(m)
	acc.Or(FullMask(2))
	assert.Equal(t, 4, acc.Count())
}

func TestComputeDirtyMask(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	g := addGroup(t, sc, 1, 2, typePayload, typeColor)
	payload, _ := c.ByType(typePayload)
	color, _ := c.ByType(typeColor)
	props := []property.Descriptor{payload, color}

	processed := sc.AdvanceVersion()
	assert.Equal(t, FullMask(2), ComputeDirtyMask(g, props, processed, true), "new groups upload everything")
	assert.True(t, ComputeDirtyMask(g, props, processed, false).IsZero(), "no writes, no reorder")

	require.NoError(t, g.SetProperty(typeColor, 1, make([]byte, 16)))
	m := ComputeDirtyMask(g, props, processed, false)
	assert.False(t, m.Has(0))
	assert.True(t, m.Has(1))

	processed = sc.AdvanceVersion()
	require.NoError(t, g.SwapInstances(0, 1))
	assert.Equal(t, FullMask(2), ComputeDirtyMask(g, props, processed, false), "reorder uploads everything")
}

func TestRoundTripPacking(t *testing.T) {
	c := newTestCatalog(t)

	// A group is owned by exactly one batch and is never split across batches, so groups of 100 fill a
	// 256-instance batch only to 200.
	t.Run("indivisible groups of 100", func(t *testing.T) {
		sc := scene.NewScene(c)
		r := NewRegistry(c, WithWorkers(2))
		for range 10 {
			addGroup(t, sc, 1, 100, typePayload)
		}
		assert.Equal(t, 256, r.MaxEntitiesPerBatch(scene.NewLayout(typePayload)))

		rep, err := r.Update(t.Context(), sc)
		require.NoError(t, err)
		assert.Equal(t, 10, rep.NewGroups)
		assert.Equal(t, []int{200, 200, 200, 200, 200}, batchSizes(r))
	})

	t.Run("1000 instances in groups of 8", func(t *testing.T) {
		sc := scene.NewScene(c)
		r := NewRegistry(c, WithWorkers(4))
		for range 125 {
			addGroup(t, sc, 1, 8, typePayload)
		}
		_, err := r.Update(t.Context(), sc)
		require.NoError(t, err)

		sizes := batchSizes(r)
		assert.Equal(t, []int{256, 256, 256, 232}, sizes)
		total := 0
		for _, s := range sizes {
			total += s
		}
		assert.Equal(t, 1000, total)
	})
}

func TestCapacityInvariant(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c, WithWorkers(3), WithMaxInstancesPerBatch(120))
	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		types := []property.TypeIndex{typePayload}
		if rng.IntN(2) == 0 {
			types = append(types, typeColor)
		}
		addGroup(t, sc, uint32(rng.IntN(3)), rng.IntN(60)+1, types...)
	}

	rep, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Empty(t, rep.Rejected)
	assert.Empty(t, rep.InvalidGroups)

	seen := 0
	for _, b := range r.Batches() {
		sum := 0
		for _, s := range b.Slots() {
			g, ok := sc.Group(s.Group)
			require.True(t, ok)
			assert.Equal(t, b.Key(), KeyOf(g), "members share one key")
			sum += g.Capacity()
			seen++
		}
		assert.LessOrEqual(t, sum, b.MaxEntities())
		assert.LessOrEqual(t, b.MaxEntities(), 120)
		assert.Equal(t, sum, b.Capacity())
	}
	assert.Equal(t, 200, seen)
}

func TestConsolidationDeterminism(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	var groups []scene.InstanceGroup
	rng := rand.New(rand.NewPCG(3, 4))
	for range 80 {
		groups = append(groups, addGroup(t, sc, uint32(rng.IntN(4)), rng.IntN(90)+1, typePayload))
	}

	partition := func(input []scene.InstanceGroup) [][]scene.GroupID {
		r := NewRegistry(c)
		res := r.ConsolidateAndAllocate(r.ClassifyNewGroups(input))
		require.Empty(t, res.Rejected)
		var out [][]scene.GroupID
		for _, b := range r.Batches() {
			var ids []scene.GroupID
			for _, s := range b.Slots() {
				ids = append(ids, s.Group)
			}
			out = append(out, ids)
		}
		return out
	}

	want := partition(groups)
	for range 5 {
		shuffled := slices.Clone(groups)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, partition(shuffled))
	}
}

func TestStreamAndMetadataLayout(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c)
	// Layout lists the inverse transform, which is derived and never uploaded.
	a := addGroup(t, sc, 1, 3, typeColor, typePayload, typeXform, typeInverse)
	b := addGroup(t, sc, 1, 5, typeColor, typePayload, typeXform, typeInverse)

	_, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, r.BatchCount())
	bat := r.Batches()[0]

	props := bat.Properties()
	require.Len(t, props, 3)
	assert.Equal(t, typePayload, props[0].Descriptor.TypeIndex, "registration order")
	assert.Equal(t, typeColor, props[1].Descriptor.TypeIndex)
	assert.Equal(t, typeXform, props[2].Descriptor.TypeIndex)
	assert.Equal(t, uint32(64+16+64), bat.BytesPerInstance())

	var end uint64
	for i, p := range props {
		assert.Zero(t, p.StreamBegin%StreamAlignment)
		assert.Equal(t, common.AlignUp(uint64(p.Descriptor.SizeBytesGPU)*8, 16), p.StreamSize)
		if i > 0 {
			assert.Equal(t, end, p.StreamBegin, "streams are contiguous")
		}
		end = p.StreamBegin + p.StreamSize
	}
	assert.Equal(t, bat.GPUBlock().Begin, props[0].StreamBegin)
	assert.LessOrEqual(t, end, bat.GPUBlock().End)

	meta := bat.MetadataBlock()
	require.Equal(t, uint64(6), meta.Length())
	records := r.Metadata(meta.Begin, meta.Length())
	for s, g := range []scene.InstanceGroup{a, b} {
		bd, ok := r.Binding(g.ID())
		require.True(t, ok)
		assert.Equal(t, s, bd.Slot)
		for p, prop := range props {
			rec := records[s*3+p]
			assert.Equal(t, int32(prop.Descriptor.TypeIndex), rec.TypeIndex)
			assert.Equal(t, prop.Descriptor.SizeBytesCPU, rec.SizeCPU)
			assert.Equal(t, prop.Descriptor.SizeBytesGPU, rec.SizeGPU)
			want := prop.StreamBegin + uint64(bd.InstanceBegin)*uint64(prop.Descriptor.SizeBytesGPU)
			assert.Equal(t, uint32(want), rec.GPUDataBegin)
			assert.True(t, bat.GPUBlock().Contains(uint64(rec.GPUDataBegin)))
		}
	}
}

func TestGCScenario(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c, WithWorkers(2))
	g1 := addGroup(t, sc, 1, 10, typePayload)
	g2 := addGroup(t, sc, 2, 10, typePayload)
	g3 := addGroup(t, sc, 3, 10, typePayload)

	_, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	rep, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Empty(t, rep.RemovedBatches, "every group was referenced")

	type snapshot struct {
		gpu     string
		records []ChunkProperty
	}
	snap := func(g scene.InstanceGroup) (ID, snapshot) {
		bd, ok := r.Binding(g.ID())
		require.True(t, ok)
		b, ok := r.Batch(bd.Batch)
		require.True(t, ok)
		m := b.MetadataBlock()
		return bd.Batch, snapshot{gpu: b.GPUBlock().String(), records: r.Metadata(m.Begin, m.Length())}
	}
	id1, before1 := snap(g1)
	id2, _ := snap(g2)
	id3, before3 := snap(g3)

	require.True(t, sc.DestroyGroup(g2.ID()))
	rep, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, []ID{id2}, rep.RemovedBatches)
	assert.Equal(t, 2, rep.LiveBatches)

	_, ok := r.Batch(id2)
	assert.False(t, ok)
	_, ok = r.Binding(g2.ID())
	assert.False(t, ok)

	gotID1, after1 := snap(g1)
	gotID3, after3 := snap(g3)
	assert.Equal(t, id1, gotID1)
	assert.Equal(t, id3, gotID3)
	assert.Equal(t, before1, after1)
	assert.Equal(t, before3, after3)
}

func TestDestroyedGroupInSharedBatch(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c)
	a := addGroup(t, sc, 1, 4, typePayload)
	b := addGroup(t, sc, 1, 4, typePayload)

	_, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, r.BatchCount())
	bat := r.Batches()[0]
	r.ClearPendingMetadata()

	sc.DestroyGroup(a.ID())
	rep, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Empty(t, rep.RemovedBatches, "the batch still has a live group")
	assert.Equal(t, 1, rep.VacatedSlots)
	assert.True(t, bat.Slot(0).Vacant)
	assert.Equal(t, 1, bat.LiveSlots())
	assert.True(t, r.Metadata(bat.MetadataIndex(0, 0), 1)[0].Unused())
	assert.False(t, r.Metadata(bat.MetadataIndex(0, 1), 1)[0].Unused())
	assert.NotEmpty(t, r.PendingMetadata())

	sc.DestroyGroup(b.ID())
	rep, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, []ID{bat.ID()}, rep.RemovedBatches)
	assert.Zero(t, r.BatchCount())
	assert.Equal(t, r.DefaultsBlock().Length(), r.GPUHeap().UsedSpace(), "only the defaults block stays allocated")
	assert.Zero(t, r.MetadataHeap().UsedSpace())
}

func TestAllocationFailure(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	logger, capture := newCaptureLogger()
	r := NewRegistry(c, WithGPUHeapSize(2048), WithLogger(logger))
	usedBefore := r.GPUHeap().UsedSpace()

	big := addGroup(t, sc, 1, 100, typePayload)
	rep, err := r.Update(t.Context(), sc)
	require.NoError(t, err)

	assert.Empty(t, rep.NewBatches)
	assert.Equal(t, []scene.GroupID{big.ID()}, rep.Rejected)
	assert.Zero(t, r.BatchCount())
	assert.Equal(t, usedBefore, r.GPUHeap().UsedSpace(), "no partial batch")
	assert.Zero(t, r.MetadataHeap().UsedSpace())
	_, bound := r.Binding(big.ID())
	assert.False(t, bound)
	assert.Equal(t, 1, capture.count(slog.LevelError))

	require.NoError(t, r.GPUHeap().Resize(1<<20))
	rep, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Len(t, rep.NewBatches, 1, "the group stayed unbound and is retried")
	_, bound = r.Binding(big.ID())
	assert.True(t, bound)
	assert.Equal(t, 1, capture.count(slog.LevelError))
}

func TestAllocationFailureRejectsLaterGroups(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	logger, capture := newCaptureLogger()
	r := NewRegistry(c, WithGPUHeapSize(64+2048), WithLogger(logger))

	small := addGroup(t, sc, 1, 16, typePayload) // 1024 bytes
	huge := addGroup(t, sc, 2, 32, typePayload)  // 2048 bytes, does not fit after small
	tiny := addGroup(t, sc, 3, 1, typePayload)   // would fit, but comes later in the same call

	res := r.ConsolidateAndAllocate(r.ClassifyNewGroups(sc.Groups()))
	assert.Len(t, res.Batches, 1)
	assert.Equal(t, []scene.GroupID{huge.ID(), tiny.ID()}, res.Rejected)
	_, ok := r.Binding(small.ID())
	assert.True(t, ok)
	_, ok = r.Binding(tiny.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, capture.count(slog.LevelError))
}

func TestInvalidLayoutsReportedOnce(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	logger, capture := newCaptureLogger()
	r := NewRegistry(c, WithLogger(logger))

	conflicting := addGroup(t, sc, 1, 1, typeColor, typeTint)
	derivedOnly := addGroup(t, sc, 1, 1, typeInverse)
	tooLarge := addGroup(t, sc, 1, 300, typePayload)
	valid := addGroup(t, sc, 1, 1, typePayload)

	for range 2 {
		rep, err := r.Update(t.Context(), sc)
		require.NoError(t, err)
		assert.ElementsMatch(t, []scene.GroupID{conflicting.ID(), derivedOnly.ID(), tooLarge.ID()}, rep.InvalidGroups)
	}
	assert.Equal(t, 3, capture.count(slog.LevelError))
	_, ok := r.Binding(valid.ID())
	assert.True(t, ok)
	_, ok = r.Binding(conflicting.ID())
	assert.False(t, ok)
	assert.Zero(t, r.MaxEntitiesPerBatch(conflicting.Layout()))
}

func TestDirtyTrackingAcrossFrames(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c, WithWorkers(2))
	a := addGroup(t, sc, 1, 2, typePayload, typeColor)
	b := addGroup(t, sc, 1, 2, typePayload, typeColor)

	_, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	dirty := map[scene.GroupID]DirtyMask{}
	r.ForEachDirty(func(bat *Batch, slot int, m DirtyMask) { dirty[bat.Slot(slot).Group] = m })
	assert.Equal(t, FullMask(2), dirty[a.ID()])
	assert.Equal(t, FullMask(2), dirty[b.ID()])
	r.ClearDirty()

	_, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	count := 0
	r.ForEachDirty(func(*Batch, int, DirtyMask) { count++ })
	assert.Zero(t, count, "nothing written since the last frame")

	require.NoError(t, b.SetProperty(typeColor, 0, make([]byte, 16)))
	_, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	dirty = map[scene.GroupID]DirtyMask{}
	r.ForEachDirty(func(bat *Batch, slot int, m DirtyMask) { dirty[bat.Slot(slot).Group] = m })
	require.Len(t, dirty, 1)
	m := dirty[b.ID()]
	assert.False(t, m.Has(0))
	assert.True(t, m.Has(1))

	// Masks accumulate until cleared.
	require.NoError(t, b.SetProperty(typePayload, 1, make([]byte, 64)))
	_, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	r.ForEachDirty(func(bat *Batch, slot int, m DirtyMask) { dirty[bat.Slot(slot).Group] = m })
	assert.Equal(t, FullMask(2), dirty[b.ID()])
}

func TestBatchIDReuseAndIndexGrowth(t *testing.T) {
	c := newTestCatalog(t)
	sc := scene.NewScene(c)
	r := NewRegistry(c, WithGrowthFactor(2.0))
	var groups []scene.InstanceGroup
	for i := range 5 {
		groups = append(groups, addGroup(t, sc, uint32(i), 1, typePayload))
	}
	_, err := r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), r.BatchIndexRange())
	assert.GreaterOrEqual(t, r.IndexCapacity(), 5)

	idOf := func(g scene.InstanceGroup) ID {
		bd, ok := r.Binding(g.ID())
		require.True(t, ok)
		return bd.Batch
	}
	freed := idOf(groups[1])
	top := idOf(groups[4])
	require.True(t, r.RemoveBatch(freed))
	require.True(t, r.RemoveBatch(top))
	assert.Equal(t, uint32(top), r.BatchIndexRange(), "range shrinks with the highest id")

	sc.DestroyGroup(groups[1].ID())
	sc.DestroyGroup(groups[4].ID())
	g := addGroup(t, sc, 99, 1, typePayload)
	_, err = r.Update(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, freed, idOf(g), "lowest free id is reused first")
}

func TestRemoveUnknownBatchIsNoOp(t *testing.T) {
	if common.DebugAssertions {
		t.Skip("assertions panic in debug builds")
	}
	r := NewRegistry(newTestCatalog(t))
	assert.False(t, r.RemoveBatch(7))
	assert.False(t, r.RemoveBatch(InvalidID))
}

func TestDefaultsBlock(t *testing.T) {
	r := NewRegistry(newTestCatalog(t))
	blk := r.DefaultsBlock()
	assert.Equal(t, uint64(0), blk.Begin)
	assert.Equal(t, uint64(64+16), blk.Length())
	assert.Len(t, r.DefaultsData(), 80)
	assert.Equal(t, blk.Begin+64, r.DefaultOffset(typeColor))
	assert.Equal(t, blk.Begin, r.DefaultOffset(typePayload), "no default: the zero region")
}

func TestGarbageCollector(t *testing.T) {
	gc := NewGarbageCollector()
	gc.Begin(roaring.BitmapOf(0, 3, 70), 71)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gc.MarkReferenced(3)
		}()
	}
	wg.Wait()
	assert.Equal(t, []ID{0, 70}, gc.Sweep())

	gc.Begin(roaring.BitmapOf(1), 2)
	gc.MarkReferenced(1)
	gc.MarkReferenced(500)
	assert.Empty(t, gc.Sweep())
}

func TestNewRegistryRequiresFrozenCatalog(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(property.NewCatalog()) })
	assert.Panics(t, func() { NewRegistry(nil) })
}
