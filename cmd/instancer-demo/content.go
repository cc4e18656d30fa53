package main

import (
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/game_object"
	"github.com/Carmen-Shannon/oxy-instancer/engine/loader"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancer/engine/terrain"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

const (
	cubeSpacing      = 3.0
	heightResolution = 64
	detailResolution = 256
	noiseSize        = 64
)

// addCubeField adds side×side spinning cubes centered on the origin. Distant cubes drop to a
// crossed quad impostor.
func addCubeField(s scene.Scene, side int) (int, error) {
	data, err := lod.NewLODGroupData("cube",
		lod.WithLevel(80, lod.RendererDescriptor{
			Mesh:           model.NewCube("cube", false),
			Materials:      []material.Material{material.NewMaterial(material.WithName("cube"), material.WithBaseColor([4]float32{0.8, 0.35, 0.2, 1}))},
			ShadowMode:     renderer.ShadowCastingOn,
			ReceiveShadows: true,
		}),
		lod.WithLevel(400, lod.RendererDescriptor{
			Mesh:      model.NewCrossedQuads("cube_far", 1, 1),
			Materials: []material.Material{material.NewMaterial(material.WithName("cube_far"), material.WithBaseColor([4]float32{0.8, 0.35, 0.2, 1}))},
		}),
	)
	if err != nil {
		return 0, err
	}
	prof := profile.Default("cube")
	prof.LODCrossFade = true

	rng := rand.New(rand.NewPCG(1, 2))
	objects := make([]game_object.GameObject, 0, side*side)
	half := float32(side-1) * cubeSpacing / 2
	for x := range side {
		for z := range side {
			objects = append(objects, game_object.NewGameObject(
				game_object.WithPosition(mgl32.Vec3{float32(x)*cubeSpacing - half, 4, float32(z)*cubeSpacing - half}),
				game_object.WithRotationSpeed(mgl32.Vec3{0, rng.Float32()*2 - 1, 0}),
			))
		}
	}
	return s.AddBatch(rendering_system.Prototype{LODGroupData: data, Profile: prof}, render_source.TransformBufferPacked3x4, objects...)
}

// addModelRing loads a glTF model and places count copies of it on a circle around the cube
// field, each turned to face the center.
func addModelRing(assets loader.Loader, s scene.Scene, path string, count int) (int, error) {
	asset, err := assets.Load(path)
	if err != nil {
		return 0, err
	}
	data, err := lod.NewLODGroupData(asset.Name, lod.WithLevel(600, asset.Renderer(lod.RendererDescriptor{
		ShadowMode:     renderer.ShadowCastingOn,
		ReceiveShadows: true,
	})))
	if err != nil {
		return 0, err
	}

	const radius = 140
	objects := make([]game_object.GameObject, 0, count)
	for i := range count {
		angle := float32(i) / float32(count) * 2 * math32.Pi
		objects = append(objects, game_object.NewGameObject(
			game_object.WithPosition(mgl32.Vec3{radius * math32.Cos(angle), 0, radius * math32.Sin(angle)}),
			game_object.WithRotation(mgl32.Vec3{0, -angle - math32.Pi/2, 0}),
		))
	}
	return s.AddBatch(rendering_system.Prototype{LODGroupData: data, Profile: profile.Default(asset.Name)}, render_source.TransformBufferMatrix4x4, objects...)
}

// addMeadow builds a rolling terrain with a grass layer thinning toward its edges.
func addMeadow(r renderer.Renderer, s scene.Scene, settings config.TerrainSettings, log *zap.Logger) (terrain.Terrain, error) {
	heights := make([]float32, heightResolution*heightResolution)
	for z := range heightResolution {
		for x := range heightResolution {
			fx, fz := float32(x)/heightResolution, float32(z)/heightResolution
			heights[z*heightResolution+x] = 0.5 + 0.25*math32.Sin(fx*2*math32.Pi)*math32.Cos(fz*3*math32.Pi)
		}
	}

	t := terrain.NewTerrain(r,
		terrain.WithLogger(log),
		terrain.WithSettings(settings),
		terrain.WithPosition(mgl32.Vec3{-200, -6, -200}),
		terrain.WithSize(mgl32.Vec3{400, 8, 400}),
		terrain.WithHeightmap(heights, heightResolution),
	)
	if err := t.Initialize(); err != nil {
		t.Release()
		return nil, err
	}

	details := []*terrain.DetailPrototype{{
		Name:             "grass",
		DensityMap:       radialDensity(128),
		Density:          0.9,
		MinScale:         0.6,
		MaxScale:         1.4,
		NoiseSpread:      1,
		ReduceByDistance: true,
	}}
	if err := t.PrepareDensityMaps(details, detailResolution); err != nil {
		t.Release()
		return nil, err
	}

	noise, err := r.CreateTexture(resource.TextureDescriptor{
		Label:         "Meadow Noise",
		Width:         noiseSize,
		Height:        noiseSize,
		Format:        resource.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
	}, whiteNoise(noiseSize))
	if err != nil {
		t.Release()
		return nil, err
	}

	data, err := lod.NewLODGroupData("grass", lod.WithLevel(settings.ViewDistance+1, lod.RendererDescriptor{
		Mesh:      model.NewCrossedQuads("grass", 0.6, 0.8),
		Materials: []material.Material{material.NewMaterial(material.WithName("grass"), material.WithBaseColor([4]float32{0.3, 0.6, 0.2, 1}), material.WithAlphaCutoff(0.5))},
	}))
	if err != nil {
		t.Release()
		return nil, err
	}
	prof := profile.Default("grass")
	prof.ShadowCasting = false
	prof.DistanceCulling = true
	prof.MaxDistance = settings.ViewDistance

	_, err = s.AddVegetation(scene.VegetationLayer{
		Terrain:          t,
		Prototype:        rendering_system.Prototype{LODGroupData: data, Profile: prof},
		Details:          details,
		DetailResolution: detailResolution,
		Capacity:         detailResolution * detailResolution,
		Noise:            noise,
	})
	if err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// radialDensity is full in the middle and fades to nothing at the corners.
func radialDensity(size int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	c := float32(size-1) / 2
	for y := range size {
		for x := range size {
			d := math32.Hypot(float32(x)-c, float32(y)-c) / (c * math32.Sqrt2)
			img.SetGray(x, y, color.Gray{Y: uint8(255 * mgl32.Clamp(1-d, 0, 1))})
		}
	}
	return img
}

// whiteNoise returns size×size RGBA8 texels of uniform noise.
func whiteNoise(size int) []byte {
	rng := rand.New(rand.NewPCG(7, 11))
	out := make([]byte, size*size*4)
	for i := range out {
		out[i] = uint8(rng.UintN(256))
	}
	return out
}
