package scene

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"go.uber.org/zap"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene is active for rendering.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithCameras adds initial cameras to the scene. The first camera drives vegetation generation.
//
// Parameters:
//   - cameras: the cameras to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCameras(cameras ...camera.Camera) SceneBuilderOption {
	return func(s *scene) {
		for _, c := range cameras {
			if c != nil {
				s.cameras = append(s.cameras, c)
			}
		}
	}
}

// WithComputeWorkers sets the number of workers that update objects and build transforms.
// Non-positive values are ignored.
//
// Parameters:
//   - n: the number of workers
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithComputeWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n > 0 {
			s.computeWorkers = n
		}
	}
}

// WithViewDistance overrides the default vegetation generation distance.
//
// Parameters:
//   - d: the distance, non-positive values are ignored
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithViewDistance(d float32) SceneBuilderOption {
	return func(s *scene) {
		if d > 0 {
			s.viewDistance = d
		}
	}
}

// WithLogger sets the scene logger.
func WithLogger(logger *zap.Logger) SceneBuilderOption {
	return func(s *scene) {
		if logger != nil {
			s.logger = logger
		}
	}
}
