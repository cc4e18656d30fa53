// Package terrain generates detail vegetation over a heightmapped terrain on the GPU. Density
// maps are resampled to the detail resolution off the render goroutine; the compute kernel then
// scatters instance transforms into a caller owned buffer and counts them with an atomic counter.
package terrain

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	// ErrInvalidHeightmap is returned by Initialize when the heightmap is missing or not square.
	ErrInvalidHeightmap = errors.New("terrain: invalid heightmap")
	// ErrInvalidResolution is returned for a detail resolution below one.
	ErrInvalidResolution = errors.New("terrain: invalid detail resolution")
	// ErrMissingResource is returned when a buffer or texture handed to the generator is invalid.
	ErrMissingResource = errors.New("terrain: missing resource")
	// ErrReleased is returned by operations on a released terrain.
	ErrReleased = errors.New("terrain: released")
)

// Terrain is a heightmapped patch of ground that detail vegetation is generated on.
type Terrain interface {
	// Position returns the world position of the terrain's minimum corner.
	Position() mgl32.Vec3

	// SetPosition moves the terrain.
	//
	// Parameters:
	//   - p: the world position of the minimum corner
	SetPosition(p mgl32.Vec3)

	// Size returns the terrain extent. Y is the height a heightmap value of 1 maps to.
	Size() mgl32.Vec3

	// Bounds returns the world space bounds: the local box translated by the position.
	Bounds() common.Bounds

	// Initialized reports whether the heightmap has been uploaded.
	Initialized() bool

	// Initialize registers the vegetation pipeline and uploads the heightmap.
	//
	// Returns:
	//   - error: ErrInvalidHeightmap, ErrReleased or a renderer error
	Initialize() error

	// IsTerrainWithinViewDistance reports whether a camera is inside the terrain bounds or
	// within viewDistance of them. A camera exactly viewDistance away counts as within.
	//
	// Parameters:
	//   - cameraPos: the camera position
	//   - viewDistance: the generation distance
	//
	// Returns:
	//   - bool: true if vegetation should be generated for the camera
	IsTerrainWithinViewDistance(cameraPos mgl32.Vec3, viewDistance float32) bool

	// PrepareDensityMaps resamples every prototype's density map to the detail resolution in
	// the worker pool and uploads the results. Prototypes without a map get a uniform one.
	//
	// Parameters:
	//   - prototypes: the prototypes, updated in place with their density textures
	//   - resolution: the detail resolution in cells per axis
	//
	// Returns:
	//   - error: ErrInvalidResolution, joined resampling errors or an upload error
	PrepareDensityMaps(prototypes []*DetailPrototype, resolution int) error

	// GenerateVegetation resets the counter and dispatches the vegetation kernel once for every
	// prototype whose SubSettingIndex matches. Nothing is dispatched, and false is returned,
	// while the terrain is uninitialized or out of view distance.
	//
	// Parameters:
	//   - prototypes: the detail prototypes with prepared density textures
	//   - transformBuffer: receives mat4x4<f32> transforms from sizeAndIndexes.StartIndex on
	//   - counterBuffer: a u32 counting the transforms written
	//   - cameraPos: the camera position
	//   - viewDistance: the generation distance
	//   - noiseTexture: an RGBA8 noise texture driving jitter, spawn threshold and rotation
	//   - sizeAndIndexes: the detail resolution and the indexes selecting the work
	//
	// Returns:
	//   - bool: true if generation ran
	//   - error: ErrMissingResource, ErrInvalidResolution or a dispatch error
	GenerateVegetation(prototypes []*DetailPrototype, transformBuffer, counterBuffer *resource.Buffer, cameraPos mgl32.Vec3, viewDistance float32, noiseTexture *resource.Texture, sizeAndIndexes SizeAndIndexes) (bool, error)

	// Release frees the GPU resources and stops the worker pool. It is safe to call twice.
	Release()
}

// DetailPrototype is one kind of detail vegetation.
type DetailPrototype struct {
	// Name labels the prototype's GPU resources.
	Name string
	// SubSettingIndex groups prototypes generated by the same GenerateVegetation call.
	SubSettingIndex int
	// DensityMap is the authored density; the red channel is used. Nil means full density.
	DensityMap image.Image
	// Density scales the density map.
	Density float32
	// MinScale and MaxScale bound the random uniform scale.
	MinScale, MaxScale float32
	// NoiseSpread jitters instances inside their cell, 0 keeps them centered.
	NoiseSpread float32
	// ReduceByDistance thins instances linearly to zero at the view distance.
	ReduceByDistance bool

	// DensityTexture is the density map at detail resolution, set by PrepareDensityMaps.
	DensityTexture *resource.Texture
}

// SizeAndIndexes selects the work of one GenerateVegetation call.
type SizeAndIndexes struct {
	// DetailResolution is the number of detail cells per terrain axis.
	DetailResolution int
	// SubSettingIndex selects the prototypes generated.
	SubSettingIndex int
	// StartIndex is the first transform slot written.
	StartIndex int
	// MaxInstances caps the transforms written. Zero allows every slot up to the buffer end.
	MaxInstances int
}

// terrain is the implementation of the Terrain interface.
type terrain struct {
	r      renderer.Renderer
	logger *zap.Logger

	position mgl32.Vec3
	size     mgl32.Vec3

	heights          []float32
	heightResolution int

	holes         common.TextureStagingData
	holesSource   func() common.TextureStagingData
	holesSampling string

	densityWorkers int
	densityPool    worker.DynamicWorkerPool

	heightTex *resource.Texture
	holesTex  *resource.Texture
	solidTex  *resource.Texture
	uniforms  []*resource.Buffer

	initialized bool
	released    bool
}

var _ Terrain = &terrain{}

// NewTerrain creates a terrain. Call Initialize before generating vegetation.
//
// Parameters:
//   - r: the renderer, must not be nil
//   - options: builder options
//
// Returns:
//   - Terrain: the terrain
func NewTerrain(r renderer.Renderer, options ...TerrainBuilderOption) Terrain {
	if r == nil {
		panic("renderer is required to create a terrain")
	}
	t := &terrain{
		r:              r,
		logger:         zap.NewNop(),
		size:           mgl32.Vec3{100, 20, 100},
		holesSampling:  config.HolesInitialization,
		densityWorkers: 4,
	}
	for _, opt := range options {
		opt(t)
	}
	t.densityPool = worker.NewDynamicWorkerPool(t.densityWorkers, 256, 1*time.Second)
	return t
}

func (t *terrain) Position() mgl32.Vec3 {
	return t.position
}

func (t *terrain) SetPosition(p mgl32.Vec3) {
	t.position = p
}

func (t *terrain) Size() mgl32.Vec3 {
	return t.size
}

func (t *terrain) Bounds() common.Bounds {
	return common.NewBoundsMinMax(mgl32.Vec3{}, t.size).Translate(t.position)
}

func (t *terrain) Initialized() bool {
	return t.initialized && !t.released
}

func (t *terrain) Initialize() error {
	if t.released {
		return ErrReleased
	}
	res := t.heightResolution
	if res < 2 || len(t.heights) != res*res {
		return fmt.Errorf("%d heights at resolution %d: %w", len(t.heights), res, ErrInvalidHeightmap)
	}

	if t.r.Pipeline(PipelineKey) == nil {
		if hb, ok := t.r.Backend().(renderer.HeadlessBackend); ok {
			hb.RegisterCPUKernel(PipelineKey, Kernel)
		}
		if err := t.r.RegisterPipelines(NewPipeline()); err != nil {
			return fmt.Errorf("failed to register vegetation pipeline: %w", err)
		}
	}

	heights := common.Float32sToBytes(t.heights)
	if t.heightTex.Valid() && t.heightTex.Descriptor().Width == uint32(res) {
		if err := t.r.WriteTexture(t.heightTex, heights); err != nil {
			return err
		}
	} else {
		t.r.ReleaseTexture(t.heightTex)
		tex, err := t.r.CreateTexture(resource.TextureDescriptor{
			Label:         "Terrain Heightmap",
			Width:         uint32(res),
			Height:        uint32(res),
			Format:        resource.TextureFormatR32Float,
			MipLevelCount: 1,
		}, heights)
		if err != nil {
			return fmt.Errorf("failed to upload heightmap: %w", err)
		}
		t.heightTex = tex
	}

	if !t.solidTex.Valid() {
		tex, err := t.r.CreateTexture(singleChannelDescriptor("Terrain Solid", 1), []byte{255})
		if err != nil {
			return err
		}
		t.solidTex = tex
	}

	t.initialized = true
	t.logger.Debug("terrain initialized", zap.Int("height_resolution", res), zap.String("holes_sampling", t.holesSampling))
	return nil
}

func (t *terrain) IsTerrainWithinViewDistance(cameraPos mgl32.Vec3, viewDistance float32) bool {
	b := t.Bounds()
	return b.Contains(cameraPos) || b.SqrDistance(cameraPos) <= viewDistance*viewDistance
}

func (t *terrain) Release() {
	if t.released {
		return
	}
	t.released = true
	t.initialized = false
	t.densityPool.Stop()
	t.r.ReleaseTexture(t.heightTex)
	t.r.ReleaseTexture(t.holesTex)
	t.r.ReleaseTexture(t.solidTex)
	t.heightTex, t.holesTex, t.solidTex = nil, nil, nil
	for _, buf := range t.uniforms {
		t.r.ReleaseBuffer(buf)
	}
	t.uniforms = nil
}

func singleChannelDescriptor(label string, edge int) resource.TextureDescriptor {
	return resource.TextureDescriptor{
		Label:         label,
		Width:         uint32(edge),
		Height:        uint32(edge),
		Format:        resource.TextureFormatR8Unorm,
		MipLevelCount: 1,
	}
}
