package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testViewProj() []float32 {
	proj := make([]float32, 16)
	view := make([]float32, 16)
	vp := make([]float32, 16)
	Perspective(proj, 1.0, 1.0, 0.1, 100)
	LookAt(view, 0, 0, 10, 0, 0, 0, 0, 1, 0)
	Mul4(vp, proj, view)
	return vp
}

func TestFrustumIntersectsAABB(t *testing.T) {
	f := ExtractFrustumFromMatrix(testViewProj())

	tests := []struct {
		name string
		box  AABB
		want bool
	}{
		{"origin", AABB{Center: [3]float32{0, 0, 0}, Extents: [3]float32{1, 1, 1}}, true},
		{"behind camera", AABB{Center: [3]float32{0, 0, 20}, Extents: [3]float32{1, 1, 1}}, false},
		{"beyond far plane", AABB{Center: [3]float32{0, 0, -200}, Extents: [3]float32{1, 1, 1}}, false},
		{"far left", AABB{Center: [3]float32{-100, 0, 0}, Extents: [3]float32{1, 1, 1}}, false},
		{"straddling left plane", AABB{Center: [3]float32{-6, 0, 0}, Extents: [3]float32{2, 2, 2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IntersectsAABB(tt.box))
		})
	}
}

func TestFrustumIntersectsAABBOnReturnedValue(t *testing.T) {
	unit := AABB{Extents: [3]float32{1, 1, 1}}
	assert.True(t, ExtractFrustumFromMatrix(testViewProj()).IntersectsAABB(unit))
	assert.False(t, ExtractFrustumFromMatrix(testViewProj()).IntersectsAABB(AABB{Center: [3]float32{0, 0, 20}, Extents: unit.Extents}))
}

func TestTransformAABB(t *testing.T) {
	local := AABB{Extents: [3]float32{1, 2, 3}}
	out := TransformAABB(local, Translation(4, 5, 6))
	assert.Equal(t, [3]float32{4, 5, 6}, out.Center)
	assert.Equal(t, [3]float32{1, 2, 3}, out.Extents)

	m := make([]float32, 16)
	BuildModelMatrix(m, 0, 0, 0, 0, 0, 0, 2, 2, 2)
	var mm [16]float32
	copy(mm[:], m)
	out = TransformAABB(local, mm)
	assert.InDelta(t, 2, out.Extents[0], 1e-5)
	assert.InDelta(t, 6, out.Extents[2], 1e-5)
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5, Distance([3]float32{0, 0, 0}, [3]float32{3, 4, 0}), 1e-6)
}
