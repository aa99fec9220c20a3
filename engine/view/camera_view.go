package view

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
)

// CameraView is a perspective camera looking from a position at a target.
type CameraView interface {
	View

	// Position returns the camera position in world space.
	Position() [3]float32

	// Target returns the point the camera looks at.
	Target() [3]float32

	// SetPosition moves the camera.
	//
	// Parameters:
	//   - x, y, z: the new world-space position
	SetPosition(x, y, z float32)

	// SetTarget changes the point the camera looks at.
	//
	// Parameters:
	//   - x, y, z: the new world-space target
	SetTarget(x, y, z float32)

	// SetAspect sets the aspect ratio (width / height) and recomputes matrices.
	//
	// Parameters:
	//   - aspect: the aspect ratio to set
	SetAspect(aspect float32)

	// SetFov sets the vertical field of view in radians and recomputes matrices.
	//
	// Parameters:
	//   - fov: field of view in radians
	SetFov(fov float32)

	// SetLODBias sets the factor applied on top of the field-of-view LOD scale.
	//
	// Parameters:
	//   - bias: values above 1 switch to coarser levels sooner
	SetLODBias(bias float32)

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// LODScale returns the distance factor used for LOD selection: the LOD bias times the ratio of
	// this camera's half-angle tangent to that of DefaultFov, so zooming in selects finer levels.
	LODScale() float32

	// ViewProjectionMatrix returns the current combined view-projection matrix (column-major).
	ViewProjectionMatrix() [16]float32
}

type cameraView struct {
	mu *sync.Mutex

	position [3]float32
	target   [3]float32
	up       [3]float32

	fov     float32
	aspect  float32
	near    float32
	far     float32
	lodBias float32

	viewMatrix           [16]float32
	projectionMatrix     [16]float32
	viewProjectionMatrix [16]float32
}

// Ensure cameraView implements CameraView interface.
var _ CameraView = &cameraView{}

// NewCameraView creates a camera at (0, 0, 10) looking at the origin with DefaultFov, an aspect of 1
// and the default clipping planes.
//
// Parameters:
//   - options: functional options to further configure the camera
//
// Returns:
//   - CameraView: the newly created camera view
func NewCameraView(options ...CameraViewBuilderOption) CameraView {
	c := &cameraView{
		mu:       &sync.Mutex{},
		position: [3]float32{0, 0, 10},
		up:       [3]float32{0, 1, 0},
		fov:      DefaultFov,
		aspect:   1,
		near:     DefaultNear,
		far:      DefaultFar,
		lodBias:  1,
	}
	for _, option := range options {
		option(c)
	}
	c.updateMatrices()
	return c
}

func (c *cameraView) Position() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraView) Target() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *cameraView) SetPosition(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = [3]float32{x, y, z}
	c.updateMatrices()
}

func (c *cameraView) SetTarget(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = [3]float32{x, y, z}
	c.updateMatrices()
}

func (c *cameraView) SetAspect(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraView) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraView) SetLODBias(bias float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bias > 0 {
		c.lodBias = bias
	}
}

func (c *cameraView) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraView) LODScale() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lodScale()
}

func (c *cameraView) ViewProjectionMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionMatrix
}

func (c *cameraView) Parameters() culling.Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return culling.NewParameters(culling.ViewCamera, c.viewProjectionMatrix, c.position, c.lodScale())
}

// lodScale must be called with the mutex held.
func (c *cameraView) lodScale() float32 {
	ref := math.Tan(float64(DefaultFov) / 2)
	cur := math.Tan(float64(c.fov) / 2)
	return c.lodBias * float32(cur/ref)
}

// updateMatrices recalculates the view, projection and view-projection matrices.
// Caller must hold the mutex.
func (c *cameraView) updateMatrices() {
	common.LookAt(c.viewMatrix[:],
		c.position[0], c.position[1], c.position[2],
		c.target[0], c.target[1], c.target[2],
		c.up[0], c.up[1], c.up[2],
	)

	common.Perspective(c.projectionMatrix[:],
		c.fov, c.aspect, c.near, c.far,
	)

	common.Mul4(c.viewProjectionMatrix[:], c.projectionMatrix[:], c.viewMatrix[:])
}
