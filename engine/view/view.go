// package view turns cameras, directional lights and selection requests into culling pass parameters.
// Each View snapshots its state into a culling.Parameters value once per pass.
package view

import (
	"math"

	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
)

const (
	// DefaultFov is the default vertical field of view in radians (60 degrees).
	DefaultFov float32 = math.Pi / 3

	// DefaultNear is the default near clipping plane distance.
	DefaultNear float32 = 0.1

	// DefaultFar is the default far clipping plane distance.
	DefaultFar float32 = 1000
)

// View produces the parameters of one culling pass.
type View interface {
	// Parameters snapshots the view into pass parameters.
	//
	// Returns:
	//   - culling.Parameters: the parameters of the next pass for this view
	Parameters() culling.Parameters
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
