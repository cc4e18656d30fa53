package pipeline

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithVertexShader sets the vertex shader for this pipeline.
func WithVertexShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.vertexShader = s
	}
}

// WithFragmentShader sets the fragment shader for this pipeline.
func WithFragmentShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.fragmentShader = s
	}
}

// WithComputeShader sets the compute shader for this pipeline.
func WithComputeShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.computeShader = s
	}
}

// WithBindGroupLayout declares the layout of one bind group.
//
// Parameters:
//   - group: the @group index
//   - desc: the layout descriptor shared by all keyword variants
//
// Returns:
//   - PipelineBuilderOption: a function that sets the layout for the group
func WithBindGroupLayout(group int, desc wgpu.BindGroupLayoutDescriptor) PipelineBuilderOption {
	return func(p *pipeline) {
		p.bindGroupLayouts[group] = desc
	}
}

// WithReflectedLayouts derives the bind group layouts and vertex layouts from the pipeline's
// shaders when they were not declared explicitly. Groups declared with WithBindGroupLayout win.
//
// Returns:
//   - PipelineBuilderOption: a function that enables layout reflection
func WithReflectedLayouts() PipelineBuilderOption {
	return func(p *pipeline) {
		p.reflectLayouts = true
	}
}

// WithVertexLayouts declares the vertex buffer layouts of a render pipeline.
//
// Parameters:
//   - layouts: the layouts in vertex buffer slot order
//
// Returns:
//   - PipelineBuilderOption: a function that sets the vertex layouts
func WithVertexLayouts(layouts ...wgpu.VertexBufferLayout) PipelineBuilderOption {
	return func(p *pipeline) {
		p.vertexLayouts = layouts
	}
}

// WithDepth sets whether depth testing and depth writing are enabled.
func WithDepth(test, write bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthTestEnabled = test
		p.depthWriteEnabled = write
	}
}

// WithDepthBias sets the depth bias parameters for this pipeline. Mostly useful on shadow casters.
//
// Parameters:
//   - bias: the constant depth bias to apply
//   - slopeScale: the slope scale depth bias to apply
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth bias parameters for this pipeline
func WithDepthBias(bias int32, slopeScale float32) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthBias = bias
		p.depthBiasSlopeScale = slopeScale
	}
}

// WithBlendState enables blending with the given state. A nil state disables blending.
func WithBlendState(blendState *wgpu.BlendState) PipelineBuilderOption {
	return func(p *pipeline) {
		p.blendEnabled = blendState != nil
		if blendState != nil {
			p.blendState = blendState
		}
	}
}

// WithCullMode sets the face cull mode.
func WithCullMode(mode wgpu.CullMode) PipelineBuilderOption {
	return func(p *pipeline) {
		p.cullMode = mode
	}
}

// WithFrontFace sets the front face winding order.
func WithFrontFace(frontFace wgpu.FrontFace) PipelineBuilderOption {
	return func(p *pipeline) {
		p.frontFace = frontFace
	}
}

// WithShadowCaster marks the pipeline as able to render depth-only shadow passes. The shadow
// variant is compiled with the SHADOW_PASS keyword enabled.
func WithShadowCaster(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.shadowCaster = enabled
	}
}
