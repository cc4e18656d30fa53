package rendering_system

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/light"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
)

//go:embed assets/instanced.wgsl
var instancedSource string

// InstancedPipelineKey is the render pipeline used by materials that do not name their own.
const InstancedPipelineKey = "instancer_lit"

// Instance group bindings of the instanced render pipeline.
const (
	BindingTransforms         = 0
	BindingPreviousTransforms = 1
	BindingVisibility         = 2
	BindingParameters         = 3
	BindingDrawParams         = 4
)

// BindingLocalOffset is the material group slot holding the renderer's local offset matrix.
const BindingLocalOffset = 1

// View group bindings.
const (
	ViewBindingCamera = camera.ViewBinding
	ViewBindingShadow = 1
)

// GPUDrawParams is the per camera and group uniform of the instanced pipeline. The vertex
// shader recovers the LOD of an instance from its visibility slot with it.
// Size: 16 bytes.
type GPUDrawParams struct {
	LODCount     float32 // offset  0
	BufferSize   float32 // offset  4: slots of one LOD list
	ProfileIndex float32 // offset  8: profile slice in the parameter buffer
	LODIndex     float32 // offset 12: LOD slice in the parameter buffer
}

// Size returns the size of the GPUDrawParams struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes
func (g *GPUDrawParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Floats returns the params as the float words a property block packs into a uniform buffer.
//
// Returns:
//   - []float32: 4 floats
func (g *GPUDrawParams) Floats() []float32 {
	return []float32{g.LODCount, g.BufferSize, g.ProfileIndex, g.LODIndex}
}

// NewInstancedPipeline returns the default instanced render pipeline. It draws every visible
// instance of a LOD list through indirect args, supports packed 3x4 transforms and LOD
// cross-fading through keywords, and renders the depth-only shadow variant.
//
// Parameters:
//   - options: extra pipeline options (blend state, culling)
//
// Returns:
//   - pipeline.Pipeline: the pipeline description
func NewInstancedPipeline(options ...pipeline.PipelineBuilderOption) pipeline.Pipeline {
	includes := map[string]string{
		"vertex_input":    model.GPUVertexSource,
		"camera_uniform":  camera.GPUCameraUniformSource,
		"shadow_data":     light.GPUShadowDataSource,
		"material_params": material.GPUMaterialParamsSource,
	}
	opts := []pipeline.PipelineBuilderOption{
		pipeline.WithVertexShader(shader.NewShader(InstancedPipelineKey+"_vs", shader.ShaderTypeVertex, instancedSource, "vs_main", includes)),
		pipeline.WithFragmentShader(shader.NewShader(InstancedPipelineKey+"_fs", shader.ShaderTypeFragment, instancedSource, "fs_main", includes)),
		pipeline.WithVertexLayouts(model.GPUVertexLayout()),
		pipeline.WithReflectedLayouts(),
		pipeline.WithShadowCaster(true),
	}
	return pipeline.NewPipeline(InstancedPipelineKey, pipeline.PipelineTypeRender, append(opts, options...)...)
}
