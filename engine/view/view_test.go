package view

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitBox(x, y, z float32) common.AABB {
	return common.AABB{Center: [3]float32{x, y, z}, Extents: [3]float32{0.5, 0.5, 0.5}}
}

func TestCameraView_Parameters(t *testing.T) {
	c := NewCameraView(WithPosition(0, 0, 10), WithTarget(0, 0, 0))
	params := c.Parameters()

	assert.Equal(t, culling.ViewCamera, params.View)
	assert.Equal(t, [3]float32{0, 0, 10}, params.LODOrigin)
	assert.InDelta(t, 1, params.LODScale, 1e-6)
	assert.Nil(t, params.Filter)
	assert.Equal(t, c.ViewProjectionMatrix(), params.ViewProjection)

	assert.True(t, params.Frustum.IntersectsAABB(unitBox(0, 0, 0)))
	assert.False(t, params.Frustum.IntersectsAABB(unitBox(0, 0, 20)), "behind the camera")
	assert.False(t, params.Frustum.IntersectsAABB(unitBox(100, 0, 0)))

	c.SetPosition(100, 0, 10)
	c.SetTarget(100, 0, 0)
	assert.True(t, c.Parameters().Frustum.IntersectsAABB(unitBox(100, 0, 0)))
}

func TestCameraView_LODScaleFollowsFov(t *testing.T) {
	c := NewCameraView()
	assert.InDelta(t, 1, c.LODScale(), 1e-6)

	c.SetFov(math.Pi / 6)
	want := math.Tan(math.Pi/12) / math.Tan(math.Pi/6)
	assert.InDelta(t, want, c.LODScale(), 1e-5)

	c.SetLODBias(2)
	assert.InDelta(t, 2*want, c.Parameters().LODScale, 1e-5)
	c.SetLODBias(-1)
	assert.InDelta(t, 2*want, c.LODScale(), 1e-5, "non-positive bias is ignored")
}

func TestShadowView_FollowsCamera(t *testing.T) {
	c := NewCameraView(WithPosition(50, 0, 0), WithTarget(50, 0, -1))
	s := NewShadowView(c, WithDirection(0, -2, 0), WithShadowExtent(10, 0.1, 100))
	assert.Equal(t, [3]float32{0, -1, 0}, s.Direction())

	params := s.Parameters()
	assert.Equal(t, culling.ViewShadow, params.View)
	assert.Equal(t, c.Position(), params.LODOrigin)
	assert.Equal(t, c.LODScale(), params.LODScale)

	assert.True(t, params.Frustum.IntersectsAABB(unitBox(50, 0, 0)))
	assert.True(t, params.Frustum.IntersectsAABB(unitBox(55, -20, 5)))
	assert.False(t, params.Frustum.IntersectsAABB(unitBox(0, 0, 0)), "outside the half extent")

	s.SetDirection(0, 0, 0)
	assert.Equal(t, [3]float32{0, -1, 0}, s.Direction(), "zero direction is ignored")
}

func TestPickingView_Selection(t *testing.T) {
	c := NewCameraView()
	p := NewPickingView(c)

	params := p.Parameters()
	assert.Equal(t, culling.ViewPicking, params.View)
	require.NotNil(t, params.Filter)
	assert.True(t, params.Filter.IsEmpty())

	p.Select(3, 7)
	params = p.Parameters()
	assert.Equal(t, []uint32{3, 7}, params.Filter.ToArray())
	assert.Equal(t, c.ViewProjectionMatrix(), params.ViewProjection)

	params.Filter.Add(9)
	assert.False(t, p.Selection().Contains(9), "parameters carry a copy")

	p.Clear()
	assert.True(t, p.Parameters().Filter.IsEmpty())
}

func TestNewViewsPanicWithoutCamera(t *testing.T) {
	assert.Panics(t, func() { NewShadowView(nil) })
	assert.Panics(t, func() { NewPickingView(nil) })
}

func TestOrbitController(t *testing.T) {
	c := NewCameraView(WithPosition(0, 0, 10), WithTarget(0, 0, 0))
	oc := NewOrbitController(c, 2, 50)
	assert.InDelta(t, 10, oc.Radius(), 1e-4)

	oc.Orbit(math.Pi/2, 0)
	pos := c.Position()
	assert.InDelta(t, 10, pos[0], 1e-3)
	assert.InDelta(t, 0, pos[2], 1e-3)

	oc.Zoom(100)
	assert.InDelta(t, 2, oc.Radius(), 1e-6)

	oc.Orbit(0, 10)
	assert.Less(t, c.Position()[1], float32(2))

	oc.SetPivot(5, 0, 0)
	assert.Equal(t, [3]float32{5, 0, 0}, c.Target())
	assert.Same(t, c, oc.Camera())
	assert.Panics(t, func() { NewOrbitController(nil, 1, 2) })
}
