package view

// CameraViewBuilderOption is a functional option applied to a camera view during construction via NewCameraView.
type CameraViewBuilderOption func(*cameraView)

// WithPosition sets the camera position.
//
// Parameters:
//   - x, y, z: world-space position
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the camera position
func WithPosition(x, y, z float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		c.position = [3]float32{x, y, z}
	}
}

// WithTarget sets the point the camera looks at.
//
// Parameters:
//   - x, y, z: world-space target
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the camera target
func WithTarget(x, y, z float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		c.target = [3]float32{x, y, z}
	}
}

// WithUp sets the camera's up vector.
//
// Parameters:
//   - x, y, z: up vector components
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the camera's up vector
func WithUp(x, y, z float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		c.up = [3]float32{x, y, z}
	}
}

// WithFov sets the camera's vertical field of view in radians.
//
// Parameters:
//   - fov: field of view in radians
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the camera's field of view
func WithFov(fov float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		c.fov = fov
	}
}

// WithAspect sets the camera's aspect ratio (width / height).
//
// Parameters:
//   - aspect: the aspect ratio to set
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the camera's aspect ratio
func WithAspect(aspect float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		if aspect > 0 {
			c.aspect = aspect
		}
	}
}

// WithClipPlanes sets the near and far clipping plane distances.
//
// Parameters:
//   - near: near plane distance (must be > 0)
//   - far: far plane distance (must be > near)
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the clipping planes
func WithClipPlanes(near, far float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		c.near = near
		c.far = far
	}
}

// WithLODBias sets the factor applied on top of the field-of-view LOD scale. Default is 1.
//
// Parameters:
//   - bias: values above 1 switch to coarser levels sooner
//
// Returns:
//   - CameraViewBuilderOption: a function that sets the LOD bias
func WithLODBias(bias float32) CameraViewBuilderOption {
	return func(c *cameraView) {
		if bias > 0 {
			c.lodBias = bias
		}
	}
}
