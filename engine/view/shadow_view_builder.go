package view

// ShadowViewBuilderOption is a functional option applied to a shadow view during construction via NewShadowView.
type ShadowViewBuilderOption func(*shadowView)

// WithDirection sets the light direction. Default is straight down.
//
// Parameters:
//   - x, y, z: the direction from the light toward the scene
//
// Returns:
//   - ShadowViewBuilderOption: a function that sets the light direction
func WithDirection(x, y, z float32) ShadowViewBuilderOption {
	return func(s *shadowView) {
		s.setDirection(x, y, z)
	}
}

// WithShadowExtent sets the orthographic half-extent and depth range of the shadow frustum.
//
// Parameters:
//   - halfExtent: half-size of the frustum in world units
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - ShadowViewBuilderOption: a function that sets the shadow frustum
func WithShadowExtent(halfExtent, near, far float32) ShadowViewBuilderOption {
	return func(s *shadowView) {
		if halfExtent > 0 && far > near {
			s.halfExtent = halfExtent
			s.near = near
			s.far = far
		}
	}
}
