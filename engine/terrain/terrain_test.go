package terrain

import (
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	r          renderer.Renderer
	hb         renderer.HeadlessBackend
	terrain    Terrain
	transforms *resource.Buffer
	counter    *resource.Buffer
	noise      *resource.Texture
}

// flat is a 2x2 heightmap at half height.
var flat = []float32{0.5, 0.5, 0.5, 0.5}

func newFixture(t *testing.T, slots int, noise [4]byte, options ...TerrainBuilderOption) *fixture {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	hb, ok := r.Backend().(renderer.HeadlessBackend)
	require.True(t, ok)

	options = append([]TerrainBuilderOption{
		WithSize(mgl32.Vec3{100, 20, 100}),
		WithHeightmap(flat, 2),
		WithHolesSampling(config.HolesNone),
	}, options...)
	tr := NewTerrain(r, options...)
	t.Cleanup(tr.Release)

	transforms, err := r.CreateBuffer("transforms", uint64(slots*TransformSize), resource.BufferUsageStorage)
	require.NoError(t, err)
	counter, err := r.CreateBuffer("counter", 4, resource.BufferUsageStorage|resource.BufferUsageCopyDst|resource.BufferUsageCopySrc)
	require.NoError(t, err)
	noiseTex, err := r.CreateTexture(resource.TextureDescriptor{
		Label:         "noise",
		Width:         1,
		Height:        1,
		Format:        resource.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
	}, noise[:])
	require.NoError(t, err)

	return &fixture{r: r, hb: hb, terrain: tr, transforms: transforms, counter: counter, noise: noiseTex}
}

func (f *fixture) generate(t *testing.T, prototypes []*DetailPrototype, cam mgl32.Vec3, viewDistance float32, sai SizeAndIndexes) bool {
	t.Helper()
	ok, err := f.terrain.GenerateVegetation(prototypes, f.transforms, f.counter, cam, viewDistance, f.noise, sai)
	require.NoError(t, err)
	return ok
}

func (f *fixture) count() uint32 {
	return binary.LittleEndian.Uint32(f.hb.BufferBytes(f.counter))
}

// centered noise keeps instances in the middle of their cell and always spawns them.
var centered = [4]byte{128, 128, 0, 0}

func grass(t *testing.T, f *fixture, resolution int) []*DetailPrototype {
	t.Helper()
	protos := []*DetailPrototype{{Name: "grass", Density: 1, MinScale: 1, MaxScale: 1}}
	require.NoError(t, f.terrain.PrepareDensityMaps(protos, resolution))
	return protos
}

func TestIsTerrainWithinViewDistance(t *testing.T) {
	f := newFixture(t, 1, centered, WithPosition(mgl32.Vec3{10, 0, 10}))
	tr := f.terrain

	assert.True(t, tr.IsTerrainWithinViewDistance(mgl32.Vec3{50, 5, 50}, 0), "inside the bounds")
	assert.True(t, tr.IsTerrainWithinViewDistance(mgl32.Vec3{160, 0, 50}, 50), "exactly at the view distance")
	assert.False(t, tr.IsTerrainWithinViewDistance(mgl32.Vec3{160, 0, 50}, 49.9))
	assert.True(t, tr.IsTerrainWithinViewDistance(mgl32.Vec3{-20, 0, 50}, 30), "the position offsets the bounds")
	assert.False(t, tr.IsTerrainWithinViewDistance(mgl32.Vec3{-20, 0, 50}, 29))
}

func TestInitialize_RejectsBadHeightmap(t *testing.T) {
	f := newFixture(t, 1, centered, WithHeightmap([]float32{1, 2, 3}, 2))
	assert.ErrorIs(t, f.terrain.Initialize(), ErrInvalidHeightmap)
	assert.False(t, f.terrain.Initialized())
}

func TestGenerateVegetation_Gating(t *testing.T) {
	f := newFixture(t, 64, centered)
	protos := grass(t, f, 20)
	sai := SizeAndIndexes{DetailResolution: 20}

	assert.False(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 100, sai), "uninitialized")
	assert.Empty(t, f.hb.Dispatches())

	require.NoError(t, f.terrain.Initialize())
	assert.False(t, f.generate(t, protos, mgl32.Vec3{500, 0, 50}, 100, sai), "out of view distance")
	assert.Empty(t, f.hb.Dispatches())

	assert.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 100, sai))
	dispatches := f.hb.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, PipelineKey, dispatches[0].PipelineKey)
	assert.Equal(t, [3]uint32{3, 3, 1}, dispatches[0].WorkgroupCount, "ceil(20 / 8) groups per axis")
}

func TestGenerateVegetation_PlacesOnePerCell(t *testing.T) {
	f := newFixture(t, 64, centered)
	require.NoError(t, f.terrain.Initialize())
	protos := grass(t, f, 4)

	require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4, StartIndex: 2}))
	assert.Equal(t, uint32(16), f.count())

	data := f.hb.BufferBytes(f.transforms)
	assert.Equal(t, mgl32.Mat4{}, common.ReadMatrix(data, TransformSize), "slots before the start index are untouched")
	first := common.Translation(common.ReadMatrix(data[2*TransformSize:], TransformSize))
	assert.InDelta(t, 12.5, first.X(), 0.1)
	assert.InDelta(t, 10, first.Y(), 0.01, "half height of a 20 unit terrain")
	assert.InDelta(t, 12.5, first.Z(), 0.1)

	require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4, StartIndex: 2}))
	assert.Equal(t, uint32(16), f.count(), "the counter is reset on every call")
}

func TestGenerateVegetation_ClampsToBufferCapacity(t *testing.T) {
	f := newFixture(t, 5, centered)
	require.NoError(t, f.terrain.Initialize())
	protos := grass(t, f, 4)

	require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4}))
	assert.Equal(t, uint32(5), f.count())

	require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4, MaxInstances: 3}))
	assert.Equal(t, uint32(3), f.count())
}

func TestGenerateVegetation_SubSettingIndex(t *testing.T) {
	f := newFixture(t, 64, centered)
	require.NoError(t, f.terrain.Initialize())
	protos := []*DetailPrototype{
		{Name: "grass", SubSettingIndex: 0, Density: 1, MinScale: 1, MaxScale: 1},
		{Name: "flowers", SubSettingIndex: 1, Density: 1, MinScale: 1, MaxScale: 1},
	}
	require.NoError(t, f.terrain.PrepareDensityMaps(protos, 4))

	require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4, SubSettingIndex: 1}))
	dispatches := f.hb.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, "Vegetation flowers", dispatches[0].Label)
}

func TestGenerateVegetation_ReduceByDistance(t *testing.T) {
	// A spawn threshold of one half keeps full density cells and drops thinned ones.
	f := newFixture(t, 256, [4]byte{128, 128, 128, 0})
	require.NoError(t, f.terrain.Initialize())
	protos := grass(t, f, 8)
	cam := mgl32.Vec3{0, 10, 0}

	require.True(t, f.generate(t, protos, cam, 200, SizeAndIndexes{DetailResolution: 8}))
	full := f.count()
	assert.Equal(t, uint32(64), full)
	assert.False(t, f.hb.Dispatches()[0].Keywords.Has(shader.KeywordDensityReduceByDistance))

	protos[0].ReduceByDistance = true
	f.hb.ResetRecords()
	require.True(t, f.generate(t, protos, cam, 200, SizeAndIndexes{DetailResolution: 8}))
	assert.True(t, f.hb.Dispatches()[0].Keywords.Has(shader.KeywordDensityReduceByDistance))
	assert.Less(t, f.count(), full)
	assert.Positive(t, f.count())
}

// halfHoles cuts the left half of the terrain.
func halfHoles() common.TextureStagingData {
	return common.TextureStagingData{Pixels: []byte{0, 255, 0, 255}, Width: 2, Height: 2, Channels: 1}
}

func TestGenerateVegetation_HolesSampling(t *testing.T) {
	tests := []struct {
		mode    string
		samples int
		keyword bool
		count   uint32
	}{
		{config.HolesInitialization, 1, true, 8},
		{config.HolesRuntime, 3, true, 8},
		{config.HolesNone, 0, false, 16},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			samples := 0
			source := func() common.TextureStagingData {
				samples++
				return halfHoles()
			}
			f := newFixture(t, 64, centered, WithHolesSource(source), WithHolesSampling(tt.mode))
			require.NoError(t, f.terrain.Initialize())
			protos := grass(t, f, 4)

			for range 3 {
				require.True(t, f.generate(t, protos, mgl32.Vec3{50, 5, 50}, 1000, SizeAndIndexes{DetailResolution: 4}))
			}
			assert.Equal(t, tt.samples, samples)
			assert.Equal(t, tt.count, f.count())
			for _, d := range f.hb.Dispatches() {
				assert.Equal(t, tt.keyword, d.Keywords.Has(shader.KeywordTerrainHoles))
			}
		})
	}
}

func TestGenerateVegetation_MissingResources(t *testing.T) {
	f := newFixture(t, 4, centered)
	require.NoError(t, f.terrain.Initialize())
	protos := grass(t, f, 4)

	_, err := f.terrain.GenerateVegetation(protos, f.transforms, nil, mgl32.Vec3{50, 5, 50}, 100, f.noise, SizeAndIndexes{DetailResolution: 4})
	assert.ErrorIs(t, err, ErrMissingResource)
	_, err = f.terrain.GenerateVegetation(protos, f.transforms, f.counter, mgl32.Vec3{50, 5, 50}, 100, f.noise, SizeAndIndexes{})
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestPrepareDensityMaps(t *testing.T) {
	f := newFixture(t, 1, centered)
	authored := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range authored.Pix {
		authored.Pix[i] = 128
	}
	protos := []*DetailPrototype{{Name: "uniform"}, nil, {Name: "authored", DensityMap: authored}}

	require.NoError(t, f.terrain.PrepareDensityMaps(protos, 8))
	for _, p := range []*DetailPrototype{protos[0], protos[2]} {
		require.True(t, p.DensityTexture.Valid(), p.Name)
		assert.Equal(t, uint32(8), p.DensityTexture.Descriptor().Width)
		assert.Equal(t, resource.TextureFormatR8Unorm, p.DensityTexture.Descriptor().Format)
	}

	prepared := protos[2].DensityTexture
	require.NoError(t, f.terrain.PrepareDensityMaps(protos, 8))
	assert.Same(t, prepared, protos[2].DensityTexture, "same resolution rewrites in place")

	assert.ErrorIs(t, f.terrain.PrepareDensityMaps(protos, 0), ErrInvalidResolution)
}

func TestResampleDensity(t *testing.T) {
	staged, err := ResampleDensity(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 255, 255, 255, 255, 255, 255, 255, 255}, staged.Pixels)

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	staged, err = ResampleDensity(src, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), staged.Width)
	for _, v := range staged.Pixels {
		assert.InDelta(t, 200, int(v), 1)
	}
}

func TestHeightsFromImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	heights, err := HeightsFromImage(src, 2)
	require.NoError(t, err)
	assert.Len(t, heights, 4)
	assert.InDelta(t, 1, heights[0], 0.01)

	_, err = HeightsFromImage(src, 1)
	assert.ErrorIs(t, err, ErrInvalidHeightmap)
}

func TestRelease_Twice(t *testing.T) {
	f := newFixture(t, 1, centered)
	require.NoError(t, f.terrain.Initialize())
	f.terrain.Release()
	f.terrain.Release()
	assert.False(t, f.terrain.Initialized())
	assert.ErrorIs(t, f.terrain.Initialize(), ErrReleased)
}
