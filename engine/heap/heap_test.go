package heap

import (
	"math/rand/v2"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateBasic(t *testing.T) {
	a := NewAllocator(1024)

	b := a.Allocate(100, 16)
	require.False(t, b.Empty())
	assert.Equal(t, Block{Begin: 0, End: 100}, b)
	assert.Equal(t, uint64(100), a.UsedSpace())
	assert.Equal(t, uint64(924), a.FreeSpace())
	assert.Equal(t, uint64(100), a.OnePastHighestUsedAddress())

	c := a.Allocate(10, 16)
	assert.Equal(t, uint64(112), c.Begin, "begin must be aligned")
	assert.Equal(t, uint64(122), a.OnePastHighestUsedAddress())
	assert.Equal(t, 2, a.AllocationCount())
}

func TestAllocateZeroAndTooLarge(t *testing.T) {
	a := NewAllocator(64)
	assert.True(t, a.Allocate(0, 16).Empty())
	assert.True(t, a.Allocate(65, 1).Empty())
	assert.Equal(t, uint64(64), a.FreeSpace())

	full := a.Allocate(64, 16)
	require.False(t, full.Empty())
	assert.True(t, a.Allocate(1, 1).Empty())
}

func TestAllocateBestFit(t *testing.T) {
	a := NewAllocator(1000)
	b0 := a.Allocate(100, 1) // [0,100)
	_ = a.Allocate(10, 1)    // [100,110)
	b2 := a.Allocate(50, 1)  // [110,160)
	_ = a.Allocate(10, 1)    // [160,170)
	b4 := a.Allocate(50, 1)  // [170,220)
	_ = a.Allocate(10, 1)    // [220,230)

	a.Release(b0)
	a.Release(b2)
	a.Release(b4)

	// free: [0,100) [110,160) [170,220) [230,1000)
	got := a.Allocate(40, 1)
	assert.Equal(t, uint64(110), got.Begin, "smallest fitting range, lowest address on ties")

	got = a.Allocate(90, 1)
	assert.Equal(t, uint64(0), got.Begin)
}

func TestReleaseCoalesces(t *testing.T) {
	a := NewAllocator(300)
	x := a.Allocate(100, 1)
	y := a.Allocate(100, 1)
	z := a.Allocate(100, 1)

	a.Release(x)
	a.Release(z)
	assert.Equal(t, uint64(100), a.LargestFreeRange())
	assert.Equal(t, uint64(200), a.OnePastHighestUsedAddress())

	a.Release(y)
	assert.Equal(t, uint64(300), a.LargestFreeRange())
	assert.Equal(t, uint64(0), a.OnePastHighestUsedAddress())
	assert.Equal(t, 0, a.AllocationCount())
}

func TestReleaseMisuseIsNoOp(t *testing.T) {
	if common.DebugAssertions {
		t.Skip("assertions panic in debug builds")
	}
	a := NewAllocator(256)
	b := a.Allocate(64, 16)
	a.Release(b)
	a.Release(b)
	a.Release(Block{Begin: 10, End: 20})
	assert.Equal(t, uint64(256), a.FreeSpace())
	assert.Equal(t, uint64(256), a.LargestFreeRange())
}

func TestResize(t *testing.T) {
	a := NewAllocator(128)
	full := a.Allocate(128, 1)
	require.False(t, full.Empty())
	assert.True(t, a.Allocate(64, 1).Empty())

	require.NoError(t, a.Resize(256))
	more := a.Allocate(64, 1)
	assert.Equal(t, Block{Begin: 128, End: 192}, more)
	assert.ErrorIs(t, a.Resize(10), ErrShrink)
	assert.Equal(t, uint64(256), a.Size())
}

func TestRandomSequencesNeverOverlapAndFullyCoalesce(t *testing.T) {
	const size = 1 << 16
	rng := rand.New(rand.NewPCG(7, 11))

	for round := range 20 {
		a := NewAllocator(size)
		var live []Block

		for range 2000 {
			if len(live) > 0 && rng.IntN(3) == 0 {
				i := rng.IntN(len(live))
				a.Release(live[i])
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]
				continue
			}
			req := uint64(rng.IntN(700) + 1)
			align := uint64(1) << rng.IntN(7)
			b := a.Allocate(req, align)
			if b.Empty() {
				continue
			}
			require.Equal(t, req, b.Length())
			require.Zero(t, b.Begin%align, "round %d: misaligned block %s", round, b)
			for _, o := range live {
				require.False(t, b.Overlaps(o), "round %d: %s overlaps %s", round, b, o)
			}
			live = append(live, b)
		}

		var used, hw uint64
		for _, b := range live {
			used += b.Length()
			hw = max(hw, b.End)
		}
		assert.Equal(t, used, a.UsedSpace())
		assert.Equal(t, hw, a.OnePastHighestUsedAddress())

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, b := range live {
			a.Release(b)
		}
		assert.Equal(t, uint64(size), a.FreeSpace())
		assert.Equal(t, uint64(size), a.LargestFreeRange())
		assert.Equal(t, 0, a.AllocationCount())
	}
}
