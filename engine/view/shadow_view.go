package view

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
)

const (
	// DefaultShadowHalfExtent is the default orthographic half-extent (in world units)
	// used for the directional light shadow frustum. Controls how much of the scene
	// around the camera center is captured in the shadow map.
	DefaultShadowHalfExtent float32 = 40.0

	// DefaultShadowNear is the default near plane for the directional light's
	// orthographic shadow projection.
	DefaultShadowNear float32 = 0.1

	// DefaultShadowFar is the default far plane for the directional light's
	// orthographic shadow projection.
	DefaultShadowFar float32 = 200.0
)

// ShadowView is the orthographic view of a directional light, centered on a camera. LOD selection
// borrows the camera's position and scale so casters switch levels together with what the camera sees.
type ShadowView interface {
	View

	// Direction returns the normalized direction the light points (from light toward scene).
	Direction() [3]float32

	// SetDirection changes the light direction. The vector is normalized; a zero vector is ignored.
	//
	// Parameters:
	//   - x, y, z: the direction from the light toward the scene
	SetDirection(x, y, z float32)

	// ViewProjectionMatrix returns the light's view-projection matrix for the current camera position.
	ViewProjectionMatrix() [16]float32
}

type shadowView struct {
	mu *sync.Mutex

	camera     CameraView
	direction  [3]float32
	halfExtent float32
	near       float32
	far        float32
}

// Ensure shadowView implements ShadowView interface.
var _ ShadowView = &shadowView{}

// NewShadowView creates the shadow view of a directional light following camera. It panics if
// camera is nil.
//
// Parameters:
//   - camera: the camera the shadow frustum is centered on
//   - options: functional options to further configure the view
//
// Returns:
//   - ShadowView: the newly created shadow view
func NewShadowView(camera CameraView, options ...ShadowViewBuilderOption) ShadowView {
	if camera == nil {
		panic("view: NewShadowView requires a CameraView")
	}
	s := &shadowView{
		mu:         &sync.Mutex{},
		camera:     camera,
		direction:  [3]float32{0, -1, 0},
		halfExtent: DefaultShadowHalfExtent,
		near:       DefaultShadowNear,
		far:        DefaultShadowFar,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *shadowView) Direction() [3]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *shadowView) SetDirection(x, y, z float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setDirection(x, y, z)
}

func (s *shadowView) setDirection(x, y, z float32) {
	l := float32(math.Sqrt(float64(x*x + y*y + z*z)))
	if l == 0 {
		return
	}
	s.direction = [3]float32{x / l, y / l, z / l}
}

func (s *shadowView) ViewProjectionMatrix() [16]float32 {
	center := s.camera.Position()
	s.mu.Lock()
	defer s.mu.Unlock()
	return directionalLightVP(s.direction, center, s.halfExtent, s.near, s.far)
}

func (s *shadowView) Parameters() culling.Parameters {
	center := s.camera.Position()
	scale := s.camera.LODScale()
	s.mu.Lock()
	defer s.mu.Unlock()
	vp := directionalLightVP(s.direction, center, s.halfExtent, s.near, s.far)
	return culling.NewParameters(culling.ViewShadow, vp, center, scale)
}

// directionalLightVP builds an orthographic view-projection matrix for a directional light's
// shadow pass. The frustum is centered on center and aligned to look along the light direction.
func directionalLightVP(lightDir, center [3]float32, halfExtent, near, far float32) [16]float32 {
	// Position the "eye" behind the center, opposite the light direction,
	// so we look from behind the scene toward the lit area.
	eyeX := center[0] - lightDir[0]*far*0.5
	eyeY := center[1] - lightDir[1]*far*0.5
	eyeZ := center[2] - lightDir[2]*far*0.5

	// Choose a stable up vector that isn't parallel to the light direction.
	// If the light points nearly straight up or down, use X-axis as up.
	upX, upY, upZ := float32(0), float32(1), float32(0)
	if absF32(lightDir[1]) > 0.99 {
		upX, upY, upZ = 1, 0, 0
	}

	var view [16]float32
	common.LookAt(view[:],
		eyeX, eyeY, eyeZ,
		center[0], center[1], center[2],
		upX, upY, upZ,
	)

	var proj [16]float32
	common.Ortho(proj[:], -halfExtent, halfExtent, -halfExtent, halfExtent, near, far)

	var vp [16]float32
	common.Mul4(vp[:], proj[:], view[:])
	return vp
}
