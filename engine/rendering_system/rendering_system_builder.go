package rendering_system

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/light"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"go.uber.org/zap"
)

// RenderingSystemBuilderOption is a functional option applied by NewRenderingSystem.
type RenderingSystemBuilderOption func(*renderingSystem)

// WithLogger sets the logger every mutator failure and lifecycle event is written to.
func WithLogger(logger *zap.Logger) RenderingSystemBuilderOption {
	return func(s *renderingSystem) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithShadowLight sets the directional light of the shadow pass. Defaults to a white light
// pointing straight down.
func WithShadowLight(l light.Light) RenderingSystemBuilderOption {
	return func(s *renderingSystem) {
		s.shadowLight = l
	}
}

// WithShadowMapSize sets the edge length of the square shadow map in texels.
func WithShadowMapSize(size int) RenderingSystemBuilderOption {
	return func(s *renderingSystem) {
		if size > 0 {
			s.shadowMapSize = size
		}
	}
}

// WithPipeline replaces the default instanced pipeline used by materials without a pipeline
// key. The pipeline must keep the instance, material and view group layout.
func WithPipeline(p pipeline.Pipeline) RenderingSystemBuilderOption {
	return func(s *renderingSystem) {
		s.pipeline = p
	}
}
