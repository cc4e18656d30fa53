package camera

import "go.uber.org/zap"

// CameraDataProviderBuilderOption is a functional option applied by NewCameraDataProvider.
type CameraDataProviderBuilderOption func(*cameraDataProvider)

// WithLogger sets the logger used for camera lifecycle events.
func WithLogger(logger *zap.Logger) CameraDataProviderBuilderOption {
	return func(p *cameraDataProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAutoRegister toggles registration of unknown game, scene view and reflection cameras on
// first sight. On by default.
func WithAutoRegister(enabled bool) CameraDataProviderBuilderOption {
	return func(p *cameraDataProvider) {
		p.autoRegister = enabled
	}
}
