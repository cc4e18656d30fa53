package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraBuilderOption is a functional option applied by NewCamera.
type CameraBuilderOption func(*cameraImpl)

// WithType sets the camera classification.
//
// Parameters:
//   - t: the camera type
//
// Returns:
//   - CameraBuilderOption: a function that sets the camera type
func WithType(t CameraType) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.cameraType = t
	}
}

// WithPose sets the initial eye position and look-at point.
//
// Parameters:
//   - position: world-space eye position
//   - target: world-space look-at point
//
// Returns:
//   - CameraBuilderOption: a function that sets the camera pose
func WithPose(position, target mgl32.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.position = position
		c.target = target
	}
}

// WithUp sets the camera's up vector.
func WithUp(up mgl32.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.up = up
	}
}

// WithPerspective sets the projection parameters.
//
// Parameters:
//   - fov: vertical field of view in radians
//   - aspect: the aspect ratio (width / height)
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - CameraBuilderOption: a function that sets the projection
func WithPerspective(fov, aspect, near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.fov = fov
		c.aspect = aspect
		c.near = near
		c.far = far
	}
}

// WithCullingMask sets the layer mask.
func WithCullingMask(mask uint32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.cullingMask = mask
	}
}

// WithController attaches a Controller that drives the camera pose.
func WithController(ctrl Controller) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.controller = ctrl
	}
}
