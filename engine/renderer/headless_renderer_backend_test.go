package renderer

import (
	"encoding/binary"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVertexSource = `//@oxy:keywords FADE
@vertex fn vs_main() -> @builtin(position) vec4<f32> {
//@oxy:if FADE
    return vec4<f32>(0.5);
//@oxy:else
    return vec4<f32>(1.0);
//@oxy:endif
}`

const testComputeSource = `@compute @workgroup_size(1) fn cs_main() {}`

func newTestRenderer(t *testing.T, options ...RendererBuilderOption) (Renderer, HeadlessBackend) {
	t.Helper()
	r := NewRenderer(BackendTypeHeadless, nil, options...)
	hb, ok := r.Backend().(HeadlessBackend)
	require.True(t, ok)
	return r, hb
}

func testRenderPipeline() pipeline.Pipeline {
	return pipeline.NewPipeline("test_render", pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(shader.NewShader("test_vs", shader.ShaderTypeVertex, testVertexSource, "vs_main", nil)),
		pipeline.WithShadowCaster(true),
	)
}

func TestHeadless_BufferLifecycle(t *testing.T) {
	r, hb := newTestRenderer(t)

	buf, err := r.CreateBuffer("data", 6, resource.BufferUsageStorage|resource.BufferUsageCopyDst)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), buf.Size(), "sizes are rounded up to 4 bytes")
	assert.Equal(t, 1, hb.LiveBuffers())

	require.NoError(t, r.WriteBuffer(buf, 4, []byte{1, 2, 3, 4}))
	assert.ErrorIs(t, r.WriteBuffer(buf, 6, []byte{1, 2, 3, 4}), ErrOutOfRange)

	dst, err := r.CreateBuffer("copy", 8, resource.BufferUsageStorage)
	require.NoError(t, err)
	require.NoError(t, r.CopyBuffer(buf, 4, dst, 0, 4))
	data, err := r.ReadBuffer(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, data)

	r.ReleaseBuffer(buf)
	assert.False(t, buf.Valid())
	assert.Equal(t, 1, hb.LiveBuffers())
	assert.ErrorIs(t, r.WriteBuffer(buf, 0, []byte{1, 2, 3, 4}), ErrInvalidBuffer)
}

func TestHeadless_MaxBufferSize(t *testing.T) {
	r, hb := newTestRenderer(t, WithHeadlessMaxBufferSize(64))

	_, err := r.CreateBuffer("fits", 64, resource.BufferUsageStorage)
	require.NoError(t, err)
	_, err = r.CreateBuffer("too big", 65, resource.BufferUsageStorage)
	assert.ErrorIs(t, err, ErrBufferTooLarge)
	assert.Equal(t, 1, hb.LiveBuffers())
}

func TestHeadless_WriteBuffersSkipsMissingBindings(t *testing.T) {
	r, hb := newTestRenderer(t)
	buf, err := r.CreateBuffer("params", 16, resource.BufferUsageStorage)
	require.NoError(t, err)
	block := property_block.NewPropertyBlock("block", property_block.WithBuffer(4, buf))

	err = r.WriteBuffers([]property_block.BufferWrite{
		{Block: block, Binding: 4, Offset: 0, Data: []byte{9, 9, 9, 9}},
		{Block: block, Binding: 7, Offset: 0, Data: []byte{1, 1, 1, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, byte(9), hb.BufferBytes(buf)[0])
}

func TestHeadless_ComputeRunsKernel(t *testing.T) {
	var seen []uint32
	r, hb := newTestRenderer(t, WithCPUKernel("fill", func(d ComputeDispatch, mem BufferMemory) error {
		out := mem.Bytes(d.Bindings.Buffer(0))
		for i := 0; i+4 <= len(out); i += 4 {
			binary.LittleEndian.PutUint32(out[i:], 7)
		}
		seen = append(seen, d.WorkgroupCount[0])
		return nil
	}))
	require.NoError(t, r.RegisterPipelines(pipeline.NewPipeline("fill", pipeline.PipelineTypeCompute,
		pipeline.WithComputeShader(shader.NewShader("fill_cs", shader.ShaderTypeCompute, testComputeSource, "cs_main", nil)),
	)))

	buf, err := r.CreateBuffer("out", 8, resource.BufferUsageStorage)
	require.NoError(t, err)
	require.NoError(t, r.BeginComputeFrame())
	require.NoError(t, r.DispatchCompute(ComputeDispatch{
		PipelineKey:    "fill",
		Bindings:       property_block.NewPropertyBlock("fill", property_block.WithBuffer(0, buf)),
		WorkgroupCount: [3]uint32{3, 1, 1},
	}))
	r.EndComputeFrame()

	assert.Equal(t, []uint32{3}, seen)
	assert.Len(t, hb.Dispatches(), 1)
	assert.Equal(t, []byte{7, 0, 0, 0, 7, 0, 0, 0}, hb.BufferBytes(buf))

	assert.ErrorIs(t, r.DispatchCompute(ComputeDispatch{PipelineKey: "missing"}), ErrUnknownPipeline)
}

func TestHeadless_ComputeUnsupported(t *testing.T) {
	r, _ := newTestRenderer(t, WithHeadlessCompute(false))
	assert.False(t, r.SupportsCompute())
}

func TestHeadless_DrawsResolveArgsAtEndFrame(t *testing.T) {
	r, hb := newTestRenderer(t)
	require.NoError(t, r.RegisterPipelines(testRenderPipeline()))

	mesh, err := r.UploadMesh("quad", make([]byte, 48), make([]byte, 24))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), mesh.IndexCount)

	args, err := r.CreateBuffer("args", 2*IndirectArgsStride, resource.BufferUsageIndirect|resource.BufferUsageStorage)
	require.NoError(t, err)

	cmd := DrawCommand{PipelineKey: "test_render", Mesh: mesh, ArgsBuffer: args, Keywords: shader.NewKeywordSet("FADE", "OTHER")}
	assert.ErrorIs(t, r.DrawIndirect(cmd), ErrNoFrame)

	require.NoError(t, r.BeginFrame())
	require.NoError(t, r.DrawIndirect(cmd))

	shadow := cmd
	shadow.Pass = RenderPassShadow
	shadow.ArgsOffset = IndirectArgsStride
	require.NoError(t, r.DrawIndirect(shadow), "shadow draws without a target are dropped silently")

	rec := GPUIndirectArgs{IndexCount: 6, InstanceCount: 42, FirstInstance: 100}
	require.NoError(t, r.WriteBuffer(args, 0, rec.Marshal()))
	r.EndFrame()

	draws := hb.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(42), draws[0].Args.InstanceCount)
	assert.Equal(t, uint32(100), draws[0].Args.FirstInstance)
	assert.Equal(t, shader.NewKeywordSet("FADE"), draws[0].Variant)
	assert.Equal(t, 1, r.Stats().DrawCalls)
	assert.Equal(t, 1, hb.Frames())
}

func TestHeadless_ShadowDrawsNeedTarget(t *testing.T) {
	r, hb := newTestRenderer(t)
	require.NoError(t, r.RegisterPipelines(testRenderPipeline()))
	mesh, err := r.UploadMesh("quad", make([]byte, 48), make([]byte, 24))
	require.NoError(t, err)
	args, err := r.CreateBuffer("args", IndirectArgsStride, resource.BufferUsageIndirect)
	require.NoError(t, err)
	target, err := r.CreateTexture(resource.TextureDescriptor{Label: "shadow", Width: 4, Height: 4, Format: resource.TextureFormatDepth32Float}, nil)
	require.NoError(t, err)
	r.SetShadowTarget(target)

	require.NoError(t, r.BeginFrame())
	require.NoError(t, r.DrawIndirect(DrawCommand{PipelineKey: "test_render", Mesh: mesh, ArgsBuffer: args, Pass: RenderPassShadow}))
	r.EndFrame()

	draws := hb.Draws()
	require.Len(t, draws, 1)
	assert.True(t, draws[0].Variant.Has(shader.KeywordShadowPass))
	assert.Equal(t, 1, r.Stats().ShadowDrawCalls)
	assert.Equal(t, 0, r.Stats().DrawCalls)
}

func TestIndirectArgs_RoundTrip(t *testing.T) {
	in := GPUIndirectArgs{IndexCount: 36, InstanceCount: 5, FirstIndex: 12, BaseVertex: -4, FirstInstance: 300}
	assert.Equal(t, IndirectArgsStride, in.Size())
	assert.Equal(t, in, UnmarshalIndirectArgs(in.Marshal()))
}
