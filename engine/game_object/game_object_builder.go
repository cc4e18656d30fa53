package game_object

import "github.com/go-gl/mathgl/mgl32"

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithEnabled sets whether the GameObject is drawn.
//
// Parameters:
//   - enabled: true to draw the object, false to skip it
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the Enabled state
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.enabled.Store(enabled)
	}
}

// WithPosition sets the initial world position.
//
// Parameters:
//   - p: the position
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(p mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = p
	}
}

// WithRotation sets the initial Euler rotation in radians.
//
// Parameters:
//   - r: the rotation
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation
func WithRotation(r mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotation = r
	}
}

// WithRotationSpeed sets the Euler rotation speed in radians per second.
//
// Parameters:
//   - s: the rotation speed
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation speed
func WithRotationSpeed(s mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotationSpeed = s
	}
}

// WithScale sets the initial per-axis scale.
//
// Parameters:
//   - s: the scale
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the scale
func WithScale(s mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = s
	}
}
