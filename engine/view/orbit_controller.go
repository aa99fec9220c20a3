package view

import (
	"math"
	"sync"
)

// OrbitController moves a CameraView around a pivot using spherical coordinates. It owns the
// position state and writes it into the camera on every change.
type OrbitController interface {
	// Orbit rotates around the pivot by the given angle steps, elevation clamped to its bounds.
	//
	// Parameters:
	//   - dAzimuth: horizontal step in radians
	//   - dElevation: vertical step in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves toward the pivot (positive delta) or away from it, clamped to the radius bounds.
	Zoom(delta float32)

	// SetPivot moves the look-at point and keeps the current angles and radius.
	SetPivot(x, y, z float32)

	// Radius returns the current distance from the pivot.
	Radius() float32

	// Camera returns the controlled camera.
	Camera() CameraView
}

type orbitController struct {
	mu *sync.Mutex

	camera CameraView
	pivot  [3]float32

	radius    float32
	azimuth   float32
	elevation float32

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32
}

var _ OrbitController = &orbitController{}

// NewOrbitController creates a controller for camera that starts at the camera's current position
// relative to its target. It panics if camera is nil.
//
// Parameters:
//   - camera: the camera to drive
//   - minRadius, maxRadius: zoom bounds
//
// Returns:
//   - OrbitController: the controller
func NewOrbitController(camera CameraView, minRadius, maxRadius float32) OrbitController {
	if camera == nil {
		panic("view: NewOrbitController requires a CameraView")
	}
	pos, target := camera.Position(), camera.Target()
	dx, dy, dz := pos[0]-target[0], pos[1]-target[1], pos[2]-target[2]
	radius := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))

	oc := &orbitController{
		mu:           &sync.Mutex{},
		camera:       camera,
		pivot:        target,
		minRadius:    minRadius,
		maxRadius:    max(maxRadius, minRadius),
		minElevation: -float32(math.Pi/2 - 0.05),
		maxElevation: float32(math.Pi/2 - 0.05),
	}
	if radius > 0 {
		oc.azimuth = float32(math.Atan2(float64(dx), float64(dz)))
		oc.elevation = float32(math.Asin(float64(dy / radius)))
	}
	oc.radius = clampF32(radius, oc.minRadius, oc.maxRadius)
	oc.elevation = clampF32(oc.elevation, oc.minElevation, oc.maxElevation)
	oc.apply()
	return oc
}

// apply writes the spherical position into the camera. Caller must hold the mutex.
func (oc *orbitController) apply() {
	cosElev := float32(math.Cos(float64(oc.elevation)))
	sinElev := float32(math.Sin(float64(oc.elevation)))
	cosAzim := float32(math.Cos(float64(oc.azimuth)))
	sinAzim := float32(math.Sin(float64(oc.azimuth)))

	oc.camera.SetTarget(oc.pivot[0], oc.pivot[1], oc.pivot[2])
	oc.camera.SetPosition(
		oc.pivot[0]+oc.radius*cosElev*sinAzim,
		oc.pivot[1]+oc.radius*sinElev,
		oc.pivot[2]+oc.radius*cosElev*cosAzim,
	)
}

func (oc *orbitController) Orbit(dAzimuth, dElevation float32) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.azimuth = float32(math.Mod(float64(oc.azimuth+dAzimuth), 2*math.Pi))
	oc.elevation = clampF32(oc.elevation+dElevation, oc.minElevation, oc.maxElevation)
	oc.apply()
}

func (oc *orbitController) Zoom(delta float32) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.radius = clampF32(oc.radius-delta, oc.minRadius, oc.maxRadius)
	oc.apply()
}

func (oc *orbitController) SetPivot(x, y, z float32) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.pivot = [3]float32{x, y, z}
	oc.apply()
}

func (oc *orbitController) Radius() float32 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.radius
}

func (oc *orbitController) Camera() CameraView {
	return oc.camera
}

func clampF32(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
