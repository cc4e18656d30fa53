package scene

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/game_object"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/terrain"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	r     renderer.Renderer
	hb    renderer.HeadlessBackend
	sys   rendering_system.RenderingSystem
	scene Scene
}

func newFixture(t *testing.T, options ...SceneBuilderOption) *fixture {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	hb, ok := r.Backend().(renderer.HeadlessBackend)
	require.True(t, ok)

	settings := config.Default()
	settings.MaxBufferSize = 4096
	sys, err := rendering_system.NewRenderingSystem(r, settings, rendering_system.WithShadowMapSize(64))
	require.NoError(t, err)
	t.Cleanup(sys.Dispose)

	s := NewScene("test", r, sys, append([]SceneBuilderOption{WithComputeWorkers(2)}, options...)...)
	t.Cleanup(s.Dispose)
	return &fixture{r: r, hb: hb, sys: sys, scene: s}
}

func cubePrototype(t *testing.T, key string) rendering_system.Prototype {
	t.Helper()
	data, err := lod.NewLODGroupData(key,
		lod.WithLevel(500, lod.RendererDescriptor{
			Mesh:      model.NewCube(key, false),
			Materials: []material.Material{material.NewMaterial(material.WithName(key))},
		}),
	)
	require.NoError(t, err)
	return rendering_system.Prototype{LODGroupData: data, Profile: profile.Default(key)}
}

func objects(n int) []game_object.GameObject {
	out := make([]game_object.GameObject, n)
	for i := range out {
		out[i] = game_object.NewGameObject(game_object.WithPosition(mgl32.Vec3{float32(i), 0, 0}))
	}
	return out
}

// transforms reads the first n mat4 transforms of a source from its group buffer.
func (f *fixture) transforms(t *testing.T, key, n int) []mgl32.Mat4 {
	t.Helper()
	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	for _, g := range f.sys.Groups() {
		if g.Key() == src.Group {
			data := f.hb.BufferBytes(g.TransformBuffer())
			out := make([]mgl32.Mat4, n)
			for i := range out {
				out[i] = common.ReadMatrix(data[(src.BufferStartIndex+i)*64:], 64)
			}
			return out
		}
	}
	t.Fatalf("no group for renderer %d", key)
	return nil
}

func TestNewScene_PanicsWithoutDependencies(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	assert.Panics(t, func() { NewScene("x", nil, nil) })
	assert.Panics(t, func() { NewScene("x", r, nil) })
}

func TestAddBatch_AssignsIDsAndUploads(t *testing.T) {
	f := newFixture(t)
	objs := objects(3)
	key, err := f.scene.AddBatch(cubePrototype(t, "cube"), render_source.TransformBufferMatrix4x4, objs...)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), objs[0].ID())
	assert.Equal(t, uint64(3), objs[2].ID())
	assert.Same(t, objs[1], f.scene.Get(2))
	assert.Equal(t, 3, f.scene.Count())

	require.NoError(t, f.scene.PrepareCompute())
	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 3, src.BufferSize)
	assert.Equal(t, 3, src.InstanceCount)

	got := f.transforms(t, key, 3)
	assert.Equal(t, float32(2), got[2].Col(3).X())
}

func TestPrepareCompute_PacksEnabledObjects(t *testing.T) {
	f := newFixture(t)
	objs := objects(4)
	key, err := f.scene.AddBatch(cubePrototype(t, "cube"), render_source.TransformBufferMatrix4x4, objs...)
	require.NoError(t, err)
	require.NoError(t, f.scene.PrepareCompute())

	objs[1].SetEnabled(false)
	require.NoError(t, f.scene.PrepareCompute())

	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 3, src.InstanceCount)
	got := f.transforms(t, key, 3)
	assert.Equal(t, []float32{0, 2, 3}, []float32{got[0].Col(3).X(), got[1].Col(3).X(), got[2].Col(3).X()})
}

func TestPrepareCompute_GrowsBuffer(t *testing.T) {
	f := newFixture(t)
	key, err := f.scene.AddBatch(cubePrototype(t, "cube"), render_source.TransformBufferMatrix4x4, objects(2)...)
	require.NoError(t, err)
	require.NoError(t, f.scene.PrepareCompute())

	require.NoError(t, f.scene.AddObjects(key, objects(3)...))
	require.NoError(t, f.scene.PrepareCompute())

	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 5, src.BufferSize)
	assert.Equal(t, 5, src.InstanceCount)
	assert.ErrorIs(t, f.scene.AddObjects(key+100, objects(1)...), ErrUnknownBatch)
}

func TestUpdate_AdvancesEveryObject(t *testing.T) {
	f := newFixture(t)
	objs := objects(chunkSize + 5)
	for _, o := range objs {
		o.SetRotationSpeed(mgl32.Vec3{0, 1, 0})
	}
	_, err := f.scene.AddBatch(cubePrototype(t, "cube"), render_source.TransformBufferMatrix4x4, objs...)
	require.NoError(t, err)

	f.scene.Update(0.5)
	for _, o := range objs {
		assert.InDelta(t, 0.5, o.Rotation().Y(), 1e-6)
	}
}

func TestRemoveAndRemoveBatch(t *testing.T) {
	f := newFixture(t)
	key, err := f.scene.AddBatch(cubePrototype(t, "cube"), render_source.TransformBufferMatrix4x4, objects(3)...)
	require.NoError(t, err)
	require.NoError(t, f.scene.PrepareCompute())

	assert.True(t, f.scene.Remove(2))
	assert.False(t, f.scene.Remove(2))
	require.NoError(t, f.scene.PrepareCompute())
	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 2, src.InstanceCount)

	require.NoError(t, f.scene.RemoveBatch(key))
	assert.Zero(t, f.scene.Count())
	assert.ErrorIs(t, f.scene.RemoveBatch(key), ErrUnknownBatch)
	_, err = f.sys.RenderSourceInfo(key)
	assert.ErrorIs(t, err, rendering_system.ErrUnknownRenderer)
}

func TestCameras(t *testing.T) {
	c1, c2 := camera.NewCamera(), camera.NewCamera()
	f := newFixture(t, WithCameras(c1))
	f.scene.AddCamera(c2)
	f.scene.AddCamera(c2)
	assert.Equal(t, []camera.Camera{c1, c2}, f.scene.Cameras())
	f.scene.RemoveCamera(c1)
	assert.Equal(t, []camera.Camera{c2}, f.scene.Cameras())
}

func TestAddVegetation_GeneratesForFirstCamera(t *testing.T) {
	cam := camera.NewCamera(camera.WithPose(mgl32.Vec3{50, 30, 50}, mgl32.Vec3{50, 0, 40}))
	f := newFixture(t, WithCameras(cam), WithViewDistance(500))

	tr := terrain.NewTerrain(f.r,
		terrain.WithHeightmap([]float32{0, 0, 0, 0}, 2),
		terrain.WithHolesSampling(config.HolesNone),
	)
	t.Cleanup(tr.Release)
	require.NoError(t, tr.Initialize())

	details := []*terrain.DetailPrototype{{Name: "grass", Density: 1, MinScale: 1, MaxScale: 1}}
	require.NoError(t, tr.PrepareDensityMaps(details, 4))
	noise, err := f.r.CreateTexture(resource.TextureDescriptor{
		Label:         "noise",
		Width:         1,
		Height:        1,
		Format:        resource.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
	}, []byte{128, 128, 0, 0})
	require.NoError(t, err)

	_, err = f.scene.AddVegetation(VegetationLayer{Terrain: tr, Prototype: cubePrototype(t, "grass"), Details: details})
	assert.ErrorIs(t, err, ErrInvalidLayer)

	key, err := f.scene.AddVegetation(VegetationLayer{
		Terrain:          tr,
		Prototype:        cubePrototype(t, "grass"),
		Details:          details,
		DetailResolution: 4,
		Capacity:         10,
		Noise:            noise,
	})
	require.NoError(t, err)

	require.NoError(t, f.scene.PrepareCompute())
	src, err := f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Equal(t, 10, src.BufferSize)
	assert.Equal(t, 10, src.InstanceCount, "16 cells clamp to the layer capacity")

	cam.SetPose(mgl32.Vec3{5000, 0, 5000}, mgl32.Vec3{5000, 0, 4990})
	require.NoError(t, f.scene.PrepareCompute())
	src, err = f.sys.RenderSourceInfo(key)
	require.NoError(t, err)
	assert.Zero(t, src.InstanceCount, "out of range terrain generates nothing")
}
