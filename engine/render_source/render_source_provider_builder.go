package render_source

import "go.uber.org/zap"

// ProviderBuilderOption is a functional option applied by NewRenderSourceGroupProvider.
type ProviderBuilderOption func(*renderSourceGroupProvider)

// WithLogger sets the logger used for group lifecycle events.
func WithLogger(logger *zap.Logger) ProviderBuilderOption {
	return func(p *renderSourceGroupProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMotionVectors enables previous-frame transform buffers for groups whose renderers use
// per-object motion vectors.
func WithMotionVectors(enabled bool) ProviderBuilderOption {
	return func(p *renderSourceGroupProvider) {
		p.motionVectors = enabled
	}
}
