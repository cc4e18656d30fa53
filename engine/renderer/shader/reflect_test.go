package shader

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reflectComputeSource = `//@oxy:keywords FAST
struct Params { count: u32, scale: f32, };
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;
@group(0) @binding(2) var<uniform> params: Params;
//@oxy:if FAST
@group(0) @binding(3) var hiz: texture_2d<f32>;
//@oxy:endif
@compute @workgroup_size(64)
fn cs_cull(@builtin(global_invocation_id) id: vec3<u32>) {}`

const reflectVertexSource = `struct VertexInput {
    @location(0) position: vec3<f32>,
    @location(1) uv: vec2<f32>,
};
@group(0) @binding(0) var<storage, read> transforms: array<mat4x4<f32>>;
@group(2) @binding(0) var<uniform> view: mat4x4<f32>;
@vertex fn vs_main(in: VertexInput) -> @builtin(position) vec4<f32> { return vec4<f32>(in.position, 1.0); }`

const reflectFragmentSource = `@group(2) @binding(0) var<uniform> view: mat4x4<f32>;
@group(1) @binding(0) var<uniform> color: vec4<f32>;
@fragment fn fs_main() -> @location(0) vec4<f32> { return color; }`

func TestReflect_Compute(t *testing.T) {
	r := Reflect(NewShader("cull", ShaderTypeCompute, reflectComputeSource, "cs_cull", nil))

	assert.Equal(t, [3]uint32{64, 1, 1}, r.WorkgroupSize)
	assert.Equal(t, "cs_cull", r.EntryPoint)
	require.Contains(t, r.BindGroupLayouts, 0)
	entries := r.BindGroupLayouts[0].Entries
	require.Len(t, entries, 4, "bindings inside keyword blocks are included")
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, entries[0].Buffer.Type)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, entries[1].Buffer.Type)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, entries[2].Buffer.Type)
	assert.Equal(t, wgpu.TextureViewDimension2D, entries[3].Texture.ViewDimension)
	assert.Equal(t, wgpu.ShaderStageCompute, entries[0].Visibility)
}

func TestReflect_MergesRenderStages(t *testing.T) {
	vs := Reflect(NewShader("vs", ShaderTypeVertex, reflectVertexSource, "vs_main", nil))
	fs := Reflect(NewShader("fs", ShaderTypeFragment, reflectFragmentSource, "fs_main", nil))
	require.Len(t, vs.VertexLayouts, 1)
	assert.Len(t, vs.VertexLayouts[0].Attributes, 2)

	merged := MergeBindGroupLayouts(vs.BindGroupLayouts, fs.BindGroupLayouts)
	assert.Len(t, merged, 3)
	view := merged[2].Entries
	require.Len(t, view, 1)
	assert.Equal(t, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment, view[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageFragment, merged[1].Entries[0].Visibility)
}

func TestReflect_MinBindingSizes(t *testing.T) {
	const source = `struct Light { direction: vec3<f32>, intensity: f32, color: vec3f, };
struct Instances { count: u32, data: array<mat3x4<f32>>, };
@group(0) @binding(0) var<uniform> light: Light;
@group(0) @binding(1) var<storage, read> instances: Instances;
@group(0) @binding(2) var<uniform> planes: array<vec4<f32>, 6>;
@group(0) @binding(3) var<storage, read_write> counter: atomic<u32>;
@group(0) @binding(4) var shadow: texture_depth_2d;
@group(0) @binding(5) var shadowSampler: sampler_comparison;
@compute @workgroup_size(8, 8) fn main() {}`

	r := Reflect(NewShader("sizes", ShaderTypeCompute, source, "main", nil))
	assert.Equal(t, [3]uint32{8, 8, 1}, r.WorkgroupSize)
	entries := r.BindGroupLayouts[0].Entries
	require.Len(t, entries, 6)
	assert.Equal(t, uint64(32), entries[0].Buffer.MinBindingSize)
	assert.Equal(t, uint64(64), entries[1].Buffer.MinBindingSize, "one runtime element after a 16-byte aligned prefix")
	assert.Equal(t, uint64(96), entries[2].Buffer.MinBindingSize)
	assert.Equal(t, uint64(4), entries[3].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.TextureSampleTypeDepth, entries[4].Texture.SampleType)
	assert.Equal(t, wgpu.SamplerBindingTypeComparison, entries[5].Sampler.Type)
}

func TestReflect_VertexLayoutsFollowEntryParameters(t *testing.T) {
	const source = `struct Mesh {
    @location(0) position: vec3<f32>,
    @location(1) color: vec4f,
};
struct Targets {
    @location(0) color: vec4<f32>,
    @location(1) motion: vec2<f32>,
};
/* @vertex fn commented_out(in: Targets) {} */
@vertex
fn vs(mesh: Mesh, @builtin(instance_index) instance: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(mesh.position, 1.0);
}
@fragment fn fs() -> Targets { var t: Targets; return t; }`

	vs := Reflect(NewShader("vs", ShaderTypeVertex, source, "vs", nil))
	assert.Equal(t, "vs", vs.EntryPoint)
	require.Len(t, vs.VertexLayouts, 1)
	layout := vs.VertexLayouts[0]
	assert.Equal(t, uint64(28), layout.ArrayStride)
	require.Len(t, layout.Attributes, 2)
	assert.Equal(t, wgpu.VertexFormatFloat32x3, layout.Attributes[0].Format)
	assert.Equal(t, wgpu.VertexFormatFloat32x4, layout.Attributes[1].Format)
	assert.Equal(t, uint64(12), layout.Attributes[1].Offset)

	fs := Reflect(NewShader("fs", ShaderTypeFragment, source, "fs", nil))
	assert.Equal(t, "fs", fs.EntryPoint)
	assert.Empty(t, fs.VertexLayouts)
}
