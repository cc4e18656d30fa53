package culling

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBufferSize = 4

type cullingFixture struct {
	r        renderer.Renderer
	hb       renderer.HeadlessBackend
	uniforms GPUCullingUniforms
	bindings property_block.PropertyBlock
	uniBuf   *resource.Buffer
	args     *resource.Buffer
	vis      *resource.Buffer
}

func newCullingFixture(t *testing.T, prof *profile.Profile, positions ...mgl32.Vec3) *cullingFixture {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil, renderer.WithCPUKernel(PipelineKey, Kernel))
	hb := r.Backend().(renderer.HeadlessBackend)
	require.NoError(t, r.RegisterPipelines(NewPipeline()))

	desc := lod.RendererDescriptor{
		Mesh:       model.NewCube("cube", false),
		Materials:  []material.Material{material.NewMaterial()},
		ShadowMode: renderer.ShadowCastingOn,
	}
	data, err := lod.NewLODGroupData("cube", lod.WithLevel(10, desc), lod.WithLevel(50, desc))
	require.NoError(t, err)

	transforms := make([]byte, testBufferSize*common.Matrix4x4Stride)
	for i, p := range positions {
		common.PutMatrix4x4(transforms[i*common.Matrix4x4Stride:], mgl32.Translate3D(p.X(), p.Y(), p.Z()))
	}
	params := append(prof.Parameters(), data.Parameters()...)

	f := &cullingFixture{r: r, hb: hb}
	buffer := func(label string, data []byte, size int) *resource.Buffer {
		buf, err := r.CreateBuffer(label, uint64(size), resource.BufferUsageStorage|resource.BufferUsageCopyDst)
		require.NoError(t, err)
		if data != nil {
			require.NoError(t, r.WriteBuffer(buf, 0, data))
		}
		return buf
	}
	f.args = buffer("args", nil, 4*renderer.IndirectArgsStride)
	f.vis = buffer("visibility", nil, testBufferSize*2*2*4)
	f.uniBuf = buffer("uniforms", nil, UniformsSize)
	f.bindings = property_block.NewPropertyBlock("culling",
		property_block.WithBuffer(BindingTransforms, buffer("transforms", transforms, len(transforms))),
		property_block.WithBuffer(BindingParameters, buffer("params", common.Float32sToBytes(params), len(params)*4)),
		property_block.WithBuffer(BindingVisibility, f.vis),
		property_block.WithBuffer(BindingArgs, f.args),
		property_block.WithBuffer(BindingRanges, buffer("ranges", common.Uint32sToBytes([]uint32{0, uint32(len(positions))}), 8)),
		property_block.WithBuffer(BindingUniforms, f.uniBuf),
	)

	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	viewProj := common.Perspective(mgl32.DegToRad(60), 1, 0.1, 100).Mul4(view)
	f.uniforms.SetCamera(common.ExtractFrustum(viewProj), viewProj, mgl32.Vec3{})
	f.uniforms.SetLODLayout(data)
	f.uniforms.LODBias = 1
	f.uniforms.BufferSize = testBufferSize
	f.uniforms.InstanceCount = uint32(len(positions))
	f.uniforms.RangeCount = 1
	f.uniforms.ProfileIndex = 0
	f.uniforms.LODIndex = profile.ParameterCount
	f.uniforms.TransformStride = common.Matrix4x4Stride / 4
	if prof.ShadowCasting {
		f.uniforms.ShadowEnabled = 1
	}
	return f
}

func (f *cullingFixture) run(t *testing.T) ([]renderer.GPUIndirectArgs, []uint32) {
	t.Helper()
	require.NoError(t, f.r.WriteBuffer(f.args, 0, make([]byte, f.args.Size())))
	require.NoError(t, f.r.WriteBuffer(f.uniBuf, 0, f.uniforms.Marshal()))
	require.NoError(t, f.r.DispatchCompute(renderer.ComputeDispatch{
		Label:          "cull",
		PipelineKey:    PipelineKey,
		Bindings:       f.bindings,
		WorkgroupCount: WorkgroupCount(int(f.uniforms.InstanceCount)),
	}))
	raw := f.hb.BufferBytes(f.args)
	args := make([]renderer.GPUIndirectArgs, 4)
	for i := range args {
		args[i] = renderer.UnmarshalIndirectArgs(raw[i*renderer.IndirectArgsStride:])
	}
	return args, common.BytesToUint32s(f.hb.BufferBytes(f.vis))
}

func TestUniforms_Layout(t *testing.T) {
	var u GPUCullingUniforms
	assert.Equal(t, UniformsSize, u.Size())
	u.BufferSize = 7
	u.LODOffsets[1] = 3
	u.HiZSize = [2]float32{2, 4}
	data := u.Marshal()
	require.Len(t, data, UniformsSize)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[176:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[228:]))
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(data[292:])))

	back, err := UnmarshalUniforms(data)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestPipeline_ReflectedLayout(t *testing.T) {
	p := NewPipeline()
	entries := p.BindGroupLayouts()[0].Entries
	require.Len(t, entries, 7)
	cs := p.Shader(shader.ShaderTypeCompute)
	assert.Equal(t, [3]uint32{WorkgroupSize, 1, 1}, shader.Reflect(cs).WorkgroupSize)
	assert.Equal(t, [3]uint32{2, 1, 1}, WorkgroupCount(65))
}

func TestKernel_LODFrustumAndShadowLists(t *testing.T) {
	prof := profile.Default("test")
	f := newCullingFixture(t, prof,
		mgl32.Vec3{0, 0, -5},  // LOD 0, visible
		mgl32.Vec3{0, 0, -20}, // LOD 1, visible
		mgl32.Vec3{0, 0, 5},   // behind the camera, still casts a shadow
	)
	args, vis := f.run(t)

	assert.Equal(t, uint32(1), args[0].InstanceCount, "opaque LOD 0")
	assert.Equal(t, uint32(1), args[1].InstanceCount, "opaque LOD 1")
	assert.Equal(t, uint32(2), args[2].InstanceCount, "shadow LOD 0")
	assert.Equal(t, uint32(1), args[3].InstanceCount, "shadow LOD 1")

	assert.Equal(t, uint32(0), vis[0])
	assert.Equal(t, uint32(1), vis[testBufferSize])
	assert.Equal(t, []uint32{0, 2}, vis[2*testBufferSize:2*testBufferSize+2])
	assert.Equal(t, uint32(1), vis[3*testBufferSize])
}

func TestKernel_BeyondLastTransitionIsCulled(t *testing.T) {
	prof := profile.Default("test")
	prof.ShadowCasting = false
	f := newCullingFixture(t, prof, mgl32.Vec3{0, 0, -80})
	f.uniforms.ShadowEnabled = 0
	args, _ := f.run(t)
	assert.Zero(t, args[0].InstanceCount)
	assert.Zero(t, args[1].InstanceCount)
}

func TestKernel_LODClampAndBias(t *testing.T) {
	prof := profile.Default("test")
	f := newCullingFixture(t, prof, mgl32.Vec3{0, 0, -5})

	f.uniforms.LODClamp = 1
	args, _ := f.run(t)
	assert.Zero(t, args[0].InstanceCount)
	assert.Equal(t, uint32(1), args[1].InstanceCount)

	f.uniforms.LODClamp = 0
	f.uniforms.LODBias = 3
	args, _ = f.run(t)
	assert.Equal(t, uint32(1), args[1].InstanceCount, "distance 5 biased to 15 selects LOD 1")
}

func TestKernel_DistanceCulling(t *testing.T) {
	prof := profile.Default("test")
	prof.DistanceCulling = true
	prof.MinDistance = 6
	prof.MaxDistance = 30
	f := newCullingFixture(t, prof, mgl32.Vec3{0, 0, -5}, mgl32.Vec3{0, 0, -20})
	args, _ := f.run(t)

	assert.Zero(t, args[0].InstanceCount)
	assert.Equal(t, uint32(1), args[1].InstanceCount)
	assert.Zero(t, args[2].InstanceCount, "distance culled instances cast no shadow")
}

func TestKernel_MinCullingDistanceKeepsNearInstances(t *testing.T) {
	prof := profile.Default("test")
	prof.MinCullingDistance = 8
	f := newCullingFixture(t, prof, mgl32.Vec3{0, 0, 5})
	args, _ := f.run(t)
	assert.Equal(t, uint32(1), args[0].InstanceCount)
}

func TestKernel_HiZOcclusion(t *testing.T) {
	prof := profile.Default("test")
	prof.OcclusionCulling = true
	f := newCullingFixture(t, prof, mgl32.Vec3{0, 0, -5})

	near := make([]byte, 4)
	binary.LittleEndian.PutUint32(near, math.Float32bits(0.1))
	hiz, err := f.r.CreateTexture(resource.TextureDescriptor{Label: "hiz", Width: 1, Height: 1, Format: resource.TextureFormatR32Float}, near)
	require.NoError(t, err)
	f.bindings.SetTexture(BindingHiZ, hiz)
	f.uniforms.OcclusionEnabled = 1
	f.uniforms.HiZSize = [2]float32{1, 1}

	args, _ := f.run(t)
	assert.Zero(t, args[0].InstanceCount, "hidden behind a near occluder")
	assert.Equal(t, uint32(1), args[2].InstanceCount, "occluded instances still cast shadows")

	binary.LittleEndian.PutUint32(near, math.Float32bits(1))
	require.NoError(t, f.r.WriteTexture(hiz, near))
	args, _ = f.run(t)
	assert.Equal(t, uint32(1), args[0].InstanceCount)
}

func TestKernel_MissingBinding(t *testing.T) {
	f := newCullingFixture(t, profile.Default("test"), mgl32.Vec3{0, 0, -5})
	f.bindings.SetBuffer(BindingRanges, nil)
	err := f.r.DispatchCompute(renderer.ComputeDispatch{PipelineKey: PipelineKey, Bindings: f.bindings})
	assert.ErrorIs(t, err, ErrMissingBinding)
}

func TestHiZKernel_KeepsFarthestDepth(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil, renderer.WithCPUKernel(HiZPipelineKey, HiZKernel))
	require.NoError(t, r.RegisterPipelines(NewHiZPipeline()))

	depthPixels := make([]float32, 8*4)
	for i := range depthPixels {
		depthPixels[i] = 0.25
	}
	depthPixels[5] = 0.75
	depth, err := r.CreateTexture(resource.TextureDescriptor{Label: "depth", Width: 8, Height: 4, Format: resource.TextureFormatDepth32Float}, common.Float32sToBytes(depthPixels))
	require.NoError(t, err)
	desc := HiZDescriptor(8, 4)
	assert.Equal(t, uint32(2), desc.Width)
	assert.Equal(t, uint32(1), desc.Height)
	hiz, err := r.CreateTexture(desc, nil)
	require.NoError(t, err)

	require.NoError(t, r.DispatchCompute(renderer.ComputeDispatch{
		PipelineKey:    HiZPipelineKey,
		Bindings:       property_block.NewPropertyBlock("hiz", property_block.WithTexture(BindingDepth, depth), property_block.WithTexture(BindingHiZOut, hiz)),
		WorkgroupCount: HiZWorkgroupCount(desc),
	}))
	mem, ok := r.Backend().(renderer.BufferMemory)
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, 0.75}, common.BytesToFloat32s(mem.Pixels(hiz)))
}
