package rendering_system

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	r   renderer.Renderer
	hb  renderer.HeadlessBackend
	sys RenderingSystem
	cam camera.Camera
}

func newFixture(t *testing.T, mutate ...func(*config.Settings)) *fixture {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	hb, ok := r.Backend().(renderer.HeadlessBackend)
	require.True(t, ok)

	settings := config.Default()
	settings.MaxBufferSize = 1000
	for _, m := range mutate {
		m(&settings)
	}
	sys, err := NewRenderingSystem(r, settings, WithShadowMapSize(64))
	require.NoError(t, err)
	t.Cleanup(sys.Dispose)

	cam := camera.NewCamera(camera.WithPose(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}))
	return &fixture{r: r, hb: hb, sys: sys, cam: cam}
}

// twoLayerPrototype has one LOD with a renderer on layer 0 and one on layer 3.
func twoLayerPrototype(t *testing.T, key string) Prototype {
	t.Helper()
	data, err := lod.NewLODGroupData(key,
		lod.WithLevel(500,
			lod.RendererDescriptor{
				Mesh:       model.NewCube(key+"_a", false),
				Materials:  []material.Material{material.NewMaterial(material.WithName("a"))},
				Layer:      0,
				ShadowMode: renderer.ShadowCastingOn,
			},
			lod.RendererDescriptor{
				Mesh:       model.NewCube(key+"_b", false),
				Materials:  []material.Material{material.NewMaterial(material.WithName("b"))},
				Layer:      3,
				ShadowMode: renderer.ShadowCastingOn,
			},
		),
	)
	require.NoError(t, err)
	return Prototype{LODGroupData: data, Profile: profile.Default(key)}
}

// row returns n transforms in front of the default camera.
func row(n int) []mgl32.Mat4 {
	out := make([]mgl32.Mat4, n)
	for i := range out {
		out[i] = mgl32.Translate3D(float32(i%10)-5, 0, -20-float32(i/10))
	}
	return out
}

func (f *fixture) frame(t *testing.T, frame int64, cams ...camera.Camera) []renderer.RecordedDraw {
	t.Helper()
	if len(cams) == 0 {
		cams = []camera.Camera{f.cam}
	}
	f.hb.ResetRecords()
	require.NoError(t, f.r.BeginFrame())
	for _, c := range cams {
		require.NoError(t, f.sys.ProcessCamera(c, frame))
	}
	f.r.EndFrame()
	require.NoError(t, f.sys.OnFrameEnd())
	return f.hb.Draws()
}

func mainDraws(draws []renderer.RecordedDraw) []renderer.RecordedDraw {
	var out []renderer.RecordedDraw
	for _, d := range draws {
		if d.Pass == renderer.RenderPassMain {
			out = append(out, d)
		}
	}
	return out
}

func TestNewRenderingSystem_UnsupportedPlatform(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil, renderer.WithHeadlessCompute(false))
	sys, err := NewRenderingSystem(r, config.Default())
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Nil(t, sys)
}

func TestNewRenderingSystem_PanicsWithoutRenderer(t *testing.T) {
	assert.Panics(t, func() { _, _ = NewRenderingSystem(nil, config.Default()) })
}

func TestRegisterRenderer_Validation(t *testing.T) {
	f := newFixture(t)
	proto := twoLayerPrototype(t, "tree")

	_, err := f.sys.RegisterRenderer(nil, proto, 0, render_source.TransformBufferMatrix4x4)
	assert.ErrorIs(t, err, ErrNilOwner)
	_, err = f.sys.RegisterRenderer("owner", Prototype{Profile: proto.Profile}, 0, render_source.TransformBufferMatrix4x4)
	assert.ErrorIs(t, err, ErrNilLODGroupData)
	_, err = f.sys.RegisterRenderer("owner", Prototype{LODGroupData: proto.LODGroupData}, 0, render_source.TransformBufferMatrix4x4)
	assert.ErrorIs(t, err, ErrNilProfile)
	assert.Empty(t, f.sys.Groups())

	assert.ErrorIs(t, f.sys.SetBufferSize(42, 10, false), ErrUnknownRenderer)
	assert.ErrorIs(t, f.sys.SetInstanceCount(42, 1), ErrUnknownRenderer)
	assert.ErrorIs(t, f.sys.DisposeRenderer(42), ErrUnknownRenderer)
	_, err = f.sys.RenderSourceInfo(42)
	assert.ErrorIs(t, err, ErrUnknownRenderer)
}

func TestRegisterRenderer_SharesGroups(t *testing.T) {
	f := newFixture(t)
	proto := twoLayerPrototype(t, "tree")

	a, err := f.sys.RegisterRenderer("a", proto, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	b, err := f.sys.RegisterRenderer("b", proto, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	c, err := f.sys.RegisterRenderer("c", proto, 1, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, f.sys.Groups(), 2)

	require.NoError(t, f.sys.SetBufferSize(a, 10, false))
	require.NoError(t, f.sys.SetBufferSize(b, 5, false))
	info, err := f.sys.RenderSourceInfo(b)
	require.NoError(t, err)
	assert.Equal(t, 10, info.BufferStartIndex)
	assert.Equal(t, 15, f.sys.Groups()[0].BufferSize())

	info, err = f.sys.RenderSourceInfo(c)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Group.GroupID)
}

func TestRegisterRenderer_InjectsKeywords(t *testing.T) {
	f := newFixture(t)
	proto := twoLayerPrototype(t, "tree")
	proto.Profile.LODCrossFade = true

	key, err := f.sys.RegisterRenderer("owner", proto, 0, render_source.TransformBufferPacked3x4, "WIND")
	require.NoError(t, err)
	info, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)

	kw := info.Group.Keywords
	assert.True(t, kw.Has(shader.KeywordLODCrossFade))
	assert.True(t, kw.Has(shader.KeywordPackedTransforms))
	assert.True(t, kw.Has("WIND"))

	plain := twoLayerPrototype(t, "bush")
	key, err = f.sys.RegisterRenderer("owner", plain, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	info, err = f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, shader.KeywordSet(""), info.Group.Keywords)
}

func TestSetBufferSize_Limits(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) { s.MaxBufferSize = 100 })
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)

	require.NoError(t, f.sys.SetBufferSize(key, 100, false))
	assert.ErrorIs(t, f.sys.SetBufferSize(key, 101, false), ErrBufferSizeExceeded)
	assert.ErrorIs(t, f.sys.SetBufferSize(key, -1, false), ErrBufferSizeExceeded)

	info, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 100, info.BufferSize, "a rejected resize leaves the source unchanged")

	assert.ErrorIs(t, f.sys.SetInstanceCount(key, 101), ErrInstanceCountOutOfRange)
	assert.ErrorIs(t, f.sys.SetInstanceCount(key, -1), ErrInstanceCountOutOfRange)
	require.NoError(t, f.sys.SetInstanceCount(key, 100))

	err = f.sys.SetTransformBufferData(key, row(4), 0, 98, 4, false)
	assert.ErrorIs(t, err, ErrTransformRangeOutOfBounds)
}

func TestProcessCamera_CullingMaskKeepsCommandIndices(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 100, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(50), 0, 0, 50, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 50))

	all := mainDraws(f.frame(t, 1))
	require.Len(t, all, 2)
	for i, d := range all {
		assert.Equal(t, i, d.CommandIndex)
		assert.Equal(t, uint32(50), d.Args.InstanceCount)
		assert.Equal(t, uint32(0), d.Args.FirstInstance)
		assert.Equal(t, uint32(36), d.Args.IndexCount)
	}

	layer3 := camera.NewCamera(
		camera.WithPose(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}),
		camera.WithCullingMask(1<<3),
	)
	masked := mainDraws(f.frame(t, 2, layer3))
	require.Len(t, masked, 1)
	assert.Equal(t, 3, masked[0].Layer)
	assert.Equal(t, 1, masked[0].CommandIndex, "filtered renderers still advance the command index")
	assert.Equal(t, uint64(renderer.IndirectArgsStride), masked[0].ArgsOffset)
	assert.Equal(t, uint32(50), masked[0].Args.InstanceCount)
}

func TestDraw_SkipsGroupsWithoutLODData(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 10, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(10), 0, 0, 10, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 10))
	require.NotEmpty(t, mainDraws(f.frame(t, 1)))

	s, ok := f.sys.(*renderingSystem)
	require.True(t, ok)
	data, ok := s.cameras.Resolve(f.cam)
	require.True(t, ok)
	cb := data.CommandBuffer()
	require.NotNil(t, cb)

	// The command buffer still lists the group after its LOD data is cleared.
	groups := s.groups.Groups()
	require.Len(t, groups, 1)
	groups[0].SetLODGroupData(nil)
	require.Contains(t, cb.Entries, groups[0].Key())

	f.hb.ResetRecords()
	require.NoError(t, f.r.BeginFrame())
	assert.NotPanics(t, func() {
		assert.NoError(t, s.draw(data, cb))
	})
	f.r.EndFrame()
	assert.Empty(t, f.hb.Draws())
}

func TestProcessCamera_FrustumAndShadowPass(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 20, false))

	transforms := row(20)
	for i := 10; i < 20; i++ {
		transforms[i] = mgl32.Translate3D(0, 0, 30)
	}
	require.NoError(t, f.sys.SetTransformBufferData(key, transforms, 0, 0, 20, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 20))

	draws := f.frame(t, 1)
	var main, shadow []renderer.RecordedDraw
	for _, d := range draws {
		if d.Pass == renderer.RenderPassShadow {
			shadow = append(shadow, d)
		} else {
			main = append(main, d)
		}
	}
	require.Len(t, main, 2)
	require.Len(t, shadow, 2)
	assert.Equal(t, uint32(10), main[0].Args.InstanceCount, "instances behind the camera are culled")
	assert.Equal(t, uint32(20), shadow[0].Args.InstanceCount, "shadow casters ignore the camera frustum")
	assert.Equal(t, uint32(20), shadow[0].Args.FirstInstance, "shadow lists follow the opaque lists")
	assert.Equal(t, 2, shadow[0].CommandIndex)
	assert.Equal(t, renderer.ShadowCastingShadowsOnly, shadow[0].ShadowMode)

	stats := f.sys.Stats()
	assert.Equal(t, 2, stats.DrawCalls)
	assert.Equal(t, 2, stats.ShadowDrawCalls)
	assert.Equal(t, 1, stats.Dispatches)
	assert.Equal(t, 20, stats.Instances)
}

func TestProcessCamera_OncePerFrame(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 4, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(4), 0, 0, 4, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 4))

	draws := f.frame(t, 7, f.cam, f.cam)
	assert.Len(t, mainDraws(draws), 2)
	assert.Equal(t, 1, f.sys.Stats().CameraPasses)
}

func TestUpdateProfile_ShadowToggleRebuilds(t *testing.T) {
	f := newFixture(t)
	proto := twoLayerPrototype(t, "tree")
	key, err := f.sys.RegisterRenderer("owner", proto, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 4, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(4), 0, 0, 4, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 4))

	f.frame(t, 1)
	data, ok := f.sys.Cameras().Get(f.cam)
	require.True(t, ok)
	assert.Equal(t, 4, data.CommandBuffer().CommandCount)

	noShadows := proto.Profile.Clone()
	noShadows.ShadowCasting = false
	require.NoError(t, f.sys.UpdateProfile(key, noShadows))
	assert.ErrorIs(t, f.sys.UpdateProfile(key, nil), ErrNilProfile)

	draws := f.frame(t, 2)
	assert.Equal(t, 2, data.CommandBuffer().CommandCount)
	assert.Equal(t, 1, f.sys.Stats().CommandBufferBuilds)
	for _, d := range draws {
		assert.Equal(t, renderer.RenderPassMain, d.Pass)
	}

	f.frame(t, 3)
	assert.Equal(t, 0, f.sys.Stats().CommandBufferBuilds, "an unchanged layout is not rebuilt")
}

func TestMaterialPropertyOverrides(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 1, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(1), 0, 0, 1, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 1))

	tint := []float32{1, 0, 0, 1, 0.5, 0, 0, 0}
	require.NoError(t, f.sys.AddMaterialPropertyOverride(key, material.ParamsBinding, tint, 0, 1))
	assert.ErrorIs(t, f.sys.AddMaterialPropertyOverride(key, 2, "red", 0, 0), ErrUnsupportedPropertyValue)

	draws := mainDraws(f.frame(t, 1))
	require.Len(t, draws, 2)
	assert.NotEqual(t, tint, draws[0].Material.Floats(material.ParamsBinding))
	assert.Equal(t, tint, draws[1].Material.Floats(material.ParamsBinding))
	assert.Len(t, draws[1].Material.Floats(BindingLocalOffset), 16)

	version := draws[1].Material.Version()
	again := mainDraws(f.frame(t, 2))
	assert.Equal(t, version, again[1].Material.Version(), "unchanged blocks keep their version")

	require.NoError(t, f.sys.ClearMaterialPropertyOverrides(key))
	cleared := mainDraws(f.frame(t, 3))
	assert.NotEqual(t, tint, cleared[1].Material.Floats(material.ParamsBinding))
}

func TestDisposeRenderer(t *testing.T) {
	f := newFixture(t)
	proto := twoLayerPrototype(t, "tree")
	a, err := f.sys.RegisterRenderer("a", proto, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	b, err := f.sys.RegisterRenderer("b", proto, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(a, 3, false))
	require.NoError(t, f.sys.SetBufferSize(b, 2, false))

	require.NoError(t, f.sys.DisposeRenderer(a))
	require.Len(t, f.sys.Groups(), 1)
	info, err := f.sys.RenderSourceInfo(b)
	require.NoError(t, err)
	assert.Equal(t, 0, info.BufferStartIndex)

	require.NoError(t, f.sys.DisposeRenderer(b))
	assert.Empty(t, f.sys.Groups())
	assert.ErrorIs(t, f.sys.DisposeRenderer(b), ErrUnknownRenderer)

	f.frame(t, 1)
	data, ok := f.sys.Cameras().Get(f.cam)
	require.True(t, ok)
	assert.Empty(t, data.CommandBuffer().Entries)
}

func TestDispose_Reentrant(t *testing.T) {
	f := newFixture(t)
	key, err := f.sys.RegisterRenderer("owner", twoLayerPrototype(t, "tree"), 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)

	f.sys.Dispose()
	f.sys.Dispose()
	assert.ErrorIs(t, f.sys.SetBufferSize(key, 1, false), ErrDisposed)
	assert.ErrorIs(t, f.sys.ProcessCamera(f.cam, 1), ErrDisposed)
	assert.Empty(t, f.sys.Groups())
}

func TestApplySettings(t *testing.T) {
	f := newFixture(t)
	s := f.sys.Settings()
	s.MaxBufferSize = 0
	assert.Error(t, f.sys.ApplySettings(s))

	s = f.sys.Settings()
	s.AutoRegisterCameras = false
	require.NoError(t, f.sys.ApplySettings(s))
	other := camera.NewCamera()
	require.NoError(t, f.sys.ProcessCamera(other, 1))
	_, ok := f.sys.Cameras().Get(other)
	assert.False(t, ok, "unknown cameras are skipped without auto registration")
}

func TestLODClamp(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) { s.MaximumLODLevel = 1 })
	data, err := lod.NewLODGroupData("rock",
		lod.WithLevel(100, lod.RendererDescriptor{
			Mesh:      model.NewCube("rock0", false),
			Materials: []material.Material{material.NewMaterial(material.WithName("r0"))},
		}),
		lod.WithLevel(200, lod.RendererDescriptor{
			Mesh:      model.NewCube("rock1", false),
			Materials: []material.Material{material.NewMaterial(material.WithName("r1"))},
		}),
	)
	require.NoError(t, err)
	prof := profile.Default("rock")
	prof.ShadowCasting = false
	key, err := f.sys.RegisterRenderer("owner", Prototype{LODGroupData: data, Profile: prof}, 0, render_source.TransformBufferMatrix4x4)
	require.NoError(t, err)
	require.NoError(t, f.sys.SetBufferSize(key, 3, false))
	require.NoError(t, f.sys.SetTransformBufferData(key, row(3), 0, 0, 3, true))
	require.NoError(t, f.sys.SetInstanceCount(key, 3))

	draws := mainDraws(f.frame(t, 1))
	require.Len(t, draws, 1, "levels finer than the clamp are not drawn")
	assert.Equal(t, 1, draws[0].CommandIndex)
	assert.Equal(t, uint32(3), draws[0].Args.InstanceCount)
	assert.Equal(t, uint32(3), draws[0].Args.FirstInstance)
}
