package render_source

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLODData(t *testing.T, motion renderer.MotionVectorMode) lod.LODGroupData {
	t.Helper()
	d, err := lod.NewLODGroupData("tree",
		lod.WithLevel(30, lod.RendererDescriptor{
			Mesh:          model.NewCube("cube", true),
			Materials:     []material.Material{material.NewMaterial(), material.NewMaterial()},
			ShadowMode:    renderer.ShadowCastingOn,
			MotionVectors: motion,
		}),
		lod.WithLevel(90, lod.RendererDescriptor{
			Mesh:      model.NewCube("cube_lod1", false),
			Materials: []material.Material{material.NewMaterial()},
		}),
	)
	require.NoError(t, err)
	return d
}

type fixture struct {
	r       renderer.Renderer
	groups  RenderSourceGroupProvider
	sources RenderSourceProvider
	lodData lod.LODGroupData
	prof    *profile.Profile
}

func newFixture(t *testing.T, options ...ProviderBuilderOption) *fixture {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	groups := NewRenderSourceGroupProvider(r, options...)
	return &fixture{
		r:       r,
		groups:  groups,
		sources: NewRenderSourceProvider(groups),
		lodData: testLODData(t, renderer.MotionVectorObject),
		prof:    profile.Default("default"),
	}
}

func (f *fixture) register(t *testing.T, keywords shader.KeywordSet, size int) (*RenderSource, RenderSourceGroup) {
	t.Helper()
	g, _, err := f.groups.GetOrCreate("tree", f.lodData, f.prof, 0, TransformBufferMatrix4x4, keywords)
	require.NoError(t, err)
	src, err := f.sources.Register("owner", g, size)
	require.NoError(t, err)
	return src, g
}

func TestGetOrCreate_RejectsMissingDependencies(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.groups.GetOrCreate("tree", nil, f.prof, 0, TransformBufferMatrix4x4, "")
	assert.ErrorIs(t, err, ErrNilLODGroupData)
	_, _, err = f.groups.GetOrCreate("tree", f.lodData, nil, 0, TransformBufferMatrix4x4, "")
	assert.ErrorIs(t, err, ErrNilProfile)
	assert.Equal(t, 0, f.groups.Len())
}

func TestSharedKey_LandsInOneGroupWithSummedSize(t *testing.T) {
	f := newFixture(t)
	kw := shader.NewKeywordSet("B", "A")

	a, ga := f.register(t, kw, 100)
	b, gb := f.register(t, shader.NewKeywordSet("A", "B"), 40)

	assert.Same(t, ga, gb)
	assert.Equal(t, 1, f.groups.Len())
	assert.Equal(t, 140, ga.BufferSize())
	assert.Equal(t, 0, a.BufferStartIndex)
	assert.Equal(t, 100, b.BufferStartIndex)
	assert.Equal(t, uint64(140*common.Matrix4x4Stride), ga.TransformBuffer().Size())

	_, other := f.register(t, shader.NewKeywordSet("C"), 10)
	assert.NotSame(t, ga, other)
	assert.Equal(t, 2, f.groups.Len())
}

func TestGroup_SumsStayConsistent(t *testing.T) {
	f := newFixture(t)
	a, g := f.register(t, "", 100)
	b, _ := f.register(t, "", 50)

	require.NoError(t, g.SetSourceInstanceCount(a.Key, 50))
	require.NoError(t, g.SetSourceInstanceCount(b.Key, 20))
	assert.Equal(t, 70, g.InstanceCount())
	assert.LessOrEqual(t, g.InstanceCount(), g.BufferSize())

	require.NoError(t, g.SetSourceBufferSize(a.Key, 30, true))
	assert.Equal(t, 80, g.BufferSize())
	assert.Equal(t, 30, a.InstanceCount, "instance count clamps to the new size")
	assert.Equal(t, 50, g.InstanceCount())
	assert.Equal(t, 30, b.BufferStartIndex)

	data, err := f.r.ReadBuffer(g.RangesBuffer())
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 30, 30, 20}, common.BytesToUint32s(data)[:4])
}

func TestGroup_ResizePreservesOtherSources(t *testing.T) {
	f := newFixture(t)
	a, g := f.register(t, "", 2)
	b, _ := f.register(t, "", 2)

	marker := mgl32.Translate3D(7, 8, 9)
	require.NoError(t, g.WriteTransforms(b.Key, []mgl32.Mat4{mgl32.Ident4(), marker}, 1, 1, 1, false))

	require.NoError(t, g.SetSourceBufferSize(a.Key, 5, false))
	assert.Equal(t, 5, b.BufferStartIndex)

	data, err := f.r.ReadBuffer(g.TransformBuffer())
	require.NoError(t, err)
	got := common.ReadMatrix(data[(b.BufferStartIndex+1)*common.Matrix4x4Stride:], common.Matrix4x4Stride)
	assert.Equal(t, marker, got)
}

func TestGroup_FailedResizeKeepsState(t *testing.T) {
	// Ten mat4x4 slots fit under the limit; anything larger fails to allocate.
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil,
		renderer.WithHeadlessMaxBufferSize(uint64(10*common.Matrix4x4Stride)))
	hb, ok := r.Backend().(renderer.HeadlessBackend)
	require.True(t, ok)
	groups := NewRenderSourceGroupProvider(r, WithMotionVectors(true))
	f := &fixture{
		r:       r,
		groups:  groups,
		sources: NewRenderSourceProvider(groups),
		lodData: testLODData(t, renderer.MotionVectorObject),
		prof:    profile.Default("default"),
	}

	a, g := f.register(t, "", 4)
	require.NoError(t, g.SetSourceInstanceCount(a.Key, 3))
	marker := mgl32.Translate3D(1, 2, 3)
	require.NoError(t, g.WriteTransforms(a.Key, []mgl32.Mat4{marker}, 0, 2, 1, false))
	version := g.LayoutVersion()
	transforms, previous := g.TransformBuffer(), g.PreviousTransformBuffer()
	live := hb.LiveBuffers()

	err := g.SetSourceBufferSize(a.Key, 20, true)
	assert.ErrorIs(t, err, renderer.ErrBufferTooLarge)
	assert.Equal(t, 4, a.BufferSize)
	assert.Equal(t, 3, a.InstanceCount)
	assert.Equal(t, 4, g.BufferSize())
	assert.Equal(t, 3, g.InstanceCount())
	assert.Equal(t, version, g.LayoutVersion())
	assert.Same(t, transforms, g.TransformBuffer())
	require.NotNil(t, previous)
	assert.Same(t, previous, g.PreviousTransformBuffer())
	assert.True(t, g.TransformBuffer().Valid())
	assert.Equal(t, live, hb.LiveBuffers(), "no buffer leaks or early release")

	data, err := r.ReadBuffer(g.TransformBuffer())
	require.NoError(t, err)
	assert.Equal(t, marker, common.ReadMatrix(data[2*common.Matrix4x4Stride:], common.Matrix4x4Stride))

	// A registration that does not fit is rolled back as well.
	_, err = f.sources.Register("big", g, 10)
	assert.ErrorIs(t, err, renderer.ErrBufferTooLarge)
	assert.Len(t, g.Sources(), 1)
	assert.Equal(t, 4, g.BufferSize())
	assert.Equal(t, live, hb.LiveBuffers())

	require.NoError(t, g.SetSourceBufferSize(a.Key, 8, true))
	assert.Equal(t, 8, g.BufferSize())
}

func TestGroup_WriteTransformsBounds(t *testing.T) {
	f := newFixture(t)
	a, g := f.register(t, "", 4)
	m := []mgl32.Mat4{mgl32.Ident4(), mgl32.Ident4()}

	assert.ErrorIs(t, g.WriteTransforms(a.Key, m, 0, 3, 2, false), ErrRangeOutOfBounds)
	assert.ErrorIs(t, g.WriteTransforms(a.Key, m, 1, 0, 2, false), ErrRangeOutOfBounds)
	assert.ErrorIs(t, g.WriteTransforms(99, m, 0, 0, 1, false), ErrUnknownSource)
	assert.NoError(t, g.WriteTransforms(a.Key, m, 0, 2, 2, true))
}

func TestDispose_LastSourceReleasesGroup(t *testing.T) {
	f := newFixture(t, WithMotionVectors(true))
	a, g := f.register(t, "", 10)
	b, _ := f.register(t, "", 10)
	transforms := g.TransformBuffer()
	require.NotNil(t, g.PreviousTransformBuffer())

	disposed, err := f.sources.Dispose(a.Key)
	require.NoError(t, err)
	assert.False(t, disposed)
	assert.Equal(t, 10, g.BufferSize())
	assert.Equal(t, 0, b.BufferStartIndex)

	disposed, err = f.sources.Dispose(b.Key)
	require.NoError(t, err)
	assert.True(t, disposed)
	assert.True(t, g.Disposed())
	assert.Nil(t, g.TransformBuffer())
	assert.False(t, transforms.Valid())
	assert.Equal(t, 0, f.groups.Len())

	_, err = f.sources.Dispose(b.Key)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestGroup_ShadowToggleChangesLayout(t *testing.T) {
	f := newFixture(t)
	_, g := f.register(t, "", 10)
	assert.Equal(t, 2, g.PassCount())
	assert.Equal(t, 10*2*2, g.VisibilityLength())
	assert.Equal(t, 3*2, g.CommandCount())

	version := g.LayoutVersion()
	noShadow := f.prof.Clone()
	noShadow.ShadowCasting = false
	g.SetProfile(noShadow)
	assert.Greater(t, g.LayoutVersion(), version)
	assert.Equal(t, 10*2, g.VisibilityLength())
	assert.Equal(t, 3, g.CommandCount())
}

func TestOverrides_MatchAndApply(t *testing.T) {
	f := newFixture(t)
	_, g := f.register(t, "", 1)

	require.NoError(t, g.AddOverride(PropertyOverride{Binding: 2, Value: float32(0.5), LODIndex: AllIndices, RendererIndex: AllIndices}))
	require.NoError(t, g.AddOverride(PropertyOverride{Binding: 3, Value: mgl32.Vec4{1, 0, 0, 1}, LODIndex: 1, RendererIndex: 0}))
	assert.ErrorIs(t, g.AddOverride(PropertyOverride{Binding: 4, Value: "red"}), ErrUnsupportedValue)
	assert.Len(t, g.Overrides(), 2)

	block := property_block.NewPropertyBlock("m")
	assert.True(t, ApplyOverrides(block, g.Overrides(), 0, 0))
	assert.Equal(t, []float32{0.5}, block.Floats(2))
	assert.Nil(t, block.Floats(3))

	ApplyOverrides(block, g.Overrides(), 1, 0)
	assert.Equal(t, []float32{1, 0, 0, 1}, block.Floats(3))

	g.ClearOverrides()
	assert.Empty(t, g.Overrides())
}

func TestGroupKey_String(t *testing.T) {
	k := GroupKey{PrototypeKey: "grass", GroupID: 2, BufferType: TransformBufferPacked3x4, Keywords: shader.NewKeywordSet("B", "A")}
	assert.Equal(t, "grass#2/packed3x4[A B]", k.String())
	assert.Equal(t, 48, k.BufferType.Stride())
}
