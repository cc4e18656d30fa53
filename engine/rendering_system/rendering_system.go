// Package rendering_system is the instancing orchestrator. It owns the render source groups,
// the parameter buffer and the per-camera command buffers, runs the visibility kernel for
// every camera and issues the indirect draws of the opaque and shadow passes.
package rendering_system

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancer/engine/light"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/parameter_buffer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// Prototype is the static description a renderer is registered with. Registrations sharing a
// prototype key, group ID, transform layout and keywords share one RenderSourceGroup.
type Prototype struct {
	// Key identifies the prototype. An empty key falls back to the LOD group data key.
	Key string
	// LODGroupData holds the levels, renderers and materials.
	LODGroupData lod.LODGroupData
	// Profile holds the culling, LOD and shadow configuration.
	Profile *profile.Profile
}

// Stats counts the work of the last completed frame plus the live registration totals.
type Stats struct {
	Groups    int
	Sources   int
	Instances int
	Cameras   int

	CameraPasses        int
	Dispatches          int
	DrawCalls           int
	ShadowDrawCalls     int
	CommandBufferBuilds int
}

type materialBlockKey struct {
	group               render_source.GroupKey
	lod, renderer, slot int
}

// materialBlock is a material's property block with the renderer offset and the group's
// overrides applied. It is rebuilt only when its inputs change so backends can keep their
// cached bind groups.
type materialBlock struct {
	block      property_block.PropertyBlock
	source     property_block.PropertyBlock
	version    uint64
	lodVersion uint64
	generation uint64
}

// renderingSystem is the implementation of the RenderingSystem interface.
type renderingSystem struct {
	r        renderer.Renderer
	logger   *zap.Logger
	settings config.Settings

	groups  render_source.RenderSourceGroupProvider
	sources render_source.RenderSourceProvider
	cameras camera.CameraDataProvider
	params  parameter_buffer.ParameterBuffer

	pipeline      pipeline.Pipeline
	shadowLight   light.Light
	shadowMapSize int
	shadowMap     *resource.Texture
	emptyHiZ      *resource.Texture
	paramsBuffer  *resource.Buffer

	lodVersions    map[string]uint64
	overrideGen    map[render_source.GroupKey]uint64
	materialBlocks map[materialBlockKey]*materialBlock

	dirty    bool
	disposed bool
	frame    int64

	current Stats
	last    Stats
}

// RenderingSystem registers instanced renderers and draws them for every camera. All methods
// run on the rendering goroutine. Mutators validate their input, log failures through the
// configured logger and return an error wrapping one of the package sentinels; a failed call
// leaves the system unchanged.
type RenderingSystem interface {
	// RegisterRenderer creates a render source for an owner and returns its renderer key. The
	// source starts with no transform slots; call SetBufferSize before uploading transforms.
	// LOD_FADE_CROSSFADE is added to the keywords when the profile asks for cross-fading.
	//
	// Parameters:
	//   - owner: the object the source belongs to, never nil
	//   - proto: the prototype's LOD data and profile
	//   - groupID: an extra grouping key, so equal prototypes can keep separate buffers
	//   - bufferType: the transform layout
	//   - keywords: shader keywords of the group
	//
	// Returns:
	//   - int: the renderer key
	//   - error: ErrNilOwner, ErrNilLODGroupData, ErrNilProfile or an allocation error
	RegisterRenderer(owner any, proto Prototype, groupID int, bufferType render_source.TransformBufferType, keywords ...string) (int, error)

	// SetBufferSize resizes a source's transform slots.
	//
	// Parameters:
	//   - key: the renderer key
	//   - size: the new slot count, at most Settings.MaxBufferSize
	//   - copyPrevious: true to keep the existing transforms that still fit
	//
	// Returns:
	//   - error: ErrUnknownRenderer, ErrBufferSizeExceeded or a reallocation error
	SetBufferSize(key, size int, copyPrevious bool) error

	// SetInstanceCount sets the number of live instances of a source.
	//
	// Parameters:
	//   - key: the renderer key
	//   - count: the live instance count, within [0, buffer size]
	//
	// Returns:
	//   - error: ErrUnknownRenderer or ErrInstanceCountOutOfRange
	SetInstanceCount(key, count int) error

	// SetTransformBufferData uploads matrices[managedStart:managedStart+count] to the source's
	// slots starting at gpuStart.
	//
	// Parameters:
	//   - key: the renderer key
	//   - matrices: the managed transform array
	//   - managedStart: the first matrix to upload
	//   - gpuStart: the first source-relative slot to write
	//   - count: the number of matrices
	//   - overwritePreviousFrame: true to also write the previous-frame buffer
	//
	// Returns:
	//   - error: ErrUnknownRenderer, ErrTransformRangeOutOfBounds or a write error
	SetTransformBufferData(key int, matrices []mgl32.Mat4, managedStart, gpuStart, count int, overwritePreviousFrame bool) error

	// AddMaterialPropertyOverride overrides a material binding for the renderers of the source's
	// group. render_source.AllIndices matches every LOD or renderer.
	//
	// Parameters:
	//   - key: the renderer key
	//   - binding: the material group binding
	//   - value: float32, []float32, mgl32.Vec4, mgl32.Mat4, *resource.Buffer or *resource.Texture
	//   - lodIndex: the LOD to match
	//   - rendererIndex: the renderer to match within the LOD
	//
	// Returns:
	//   - error: ErrUnknownRenderer or ErrUnsupportedPropertyValue
	AddMaterialPropertyOverride(key, binding int, value any, lodIndex, rendererIndex int) error

	// ClearMaterialPropertyOverrides removes every override of the source's group.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - error: ErrUnknownRenderer
	ClearMaterialPropertyOverrides(key int) error

	// UpdateProfile replaces the profile of the source's group. Toggling ShadowCasting changes
	// the visibility layout and rebuilds every command buffer.
	//
	// Parameters:
	//   - key: the renderer key
	//   - p: the new profile
	//
	// Returns:
	//   - error: ErrUnknownRenderer, ErrNilProfile or a validation error
	UpdateProfile(key int, p *profile.Profile) error

	// DisposeRenderer releases a source, and its group when it was the last one.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - error: ErrUnknownRenderer
	DisposeRenderer(key int) error

	// RenderSourceInfo returns a copy of a source.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - render_source.RenderSource: the source
	//   - error: ErrUnknownRenderer
	RenderSourceInfo(key int) (render_source.RenderSource, error)

	// Groups returns the live groups in creation order.
	//
	// Returns:
	//   - []render_source.RenderSourceGroup: the groups
	Groups() []render_source.RenderSourceGroup

	// Cameras returns the camera data provider.
	//
	// Returns:
	//   - camera.CameraDataProvider: the provider
	Cameras() camera.CameraDataProvider

	// ShadowLight returns the light driving the shadow pass.
	//
	// Returns:
	//   - light.Light: the light
	ShadowLight() light.Light

	// Settings returns the active settings.
	//
	// Returns:
	//   - config.Settings: the settings
	Settings() config.Settings

	// ApplySettings validates and applies new settings. Motion vectors, camera auto-registration,
	// LOD bias and clamps take effect on the next camera pass.
	//
	// Parameters:
	//   - s: the settings
	//
	// Returns:
	//   - error: a validation error
	ApplySettings(s config.Settings) error

	// UpdateCommandBuffers rebuilds the command buffer of every camera. Camera passes call it
	// automatically after any layout change.
	//
	// Returns:
	//   - error: an allocation error
	UpdateCommandBuffers() error

	// ProcessCamera runs the visibility kernel for a camera and issues its indirect draws. It
	// must be called between the renderer's BeginFrame and EndFrame. A second call for the same
	// camera and frame is a no-op.
	//
	// Parameters:
	//   - cam: the camera
	//   - frame: the frame number
	//
	// Returns:
	//   - error: joined dispatch and draw errors
	ProcessCamera(cam camera.Camera, frame int64) error

	// UpdateOcclusion reduces the renderer's depth attachment into the camera's Hi-Z texture,
	// which the next pass of the camera tests against. It does nothing while occlusion culling
	// is off.
	//
	// Parameters:
	//   - cam: the camera whose depth was just rendered
	//
	// Returns:
	//   - error: a dispatch or allocation error
	UpdateOcclusion(cam camera.Camera) error

	// OnFrameEnd copies transforms into the previous-frame buffers, drops transient camera data
	// and closes the frame statistics.
	//
	// Returns:
	//   - error: a copy error
	OnFrameEnd() error

	// Stats returns the counters of the last completed frame.
	//
	// Returns:
	//   - Stats: the counters
	Stats() Stats

	// Dispose releases every GPU resource. Safe to call twice.
	Dispose()
}

var _ RenderingSystem = &renderingSystem{}

// NewRenderingSystem creates a rendering system on a renderer. It registers the visibility,
// Hi-Z and instanced pipelines and, on the headless backend, their CPU kernels.
//
// Panics if r is nil.
//
// Parameters:
//   - r: the renderer
//   - settings: the system settings
//   - options: builder options
//
// Returns:
//   - RenderingSystem: the system
//   - error: ErrUnsupportedPlatform when the renderer has no compute support, a settings
//     validation error or a pipeline registration error
func NewRenderingSystem(r renderer.Renderer, settings config.Settings, options ...RenderingSystemBuilderOption) (RenderingSystem, error) {
	if r == nil {
		panic("rendering system requires a renderer")
	}
	s := &renderingSystem{
		r:              r,
		logger:         zap.NewNop(),
		settings:       settings,
		shadowMapSize:  light.ShadowMapResolution,
		lodVersions:    make(map[string]uint64),
		overrideGen:    make(map[render_source.GroupKey]uint64),
		materialBlocks: make(map[materialBlockKey]*materialBlock),
		frame:          camera.NeverUpdated,
	}
	for _, opt := range options {
		opt(s)
	}

	if err := settings.Validate(); err != nil {
		s.logger.Error("invalid rendering system settings", zap.Error(err))
		return nil, fmt.Errorf("rendering system settings: %w", err)
	}
	if !r.SupportsCompute() {
		s.logger.Error("rendering system unavailable", zap.Stringer("backend", r.BackendType()), zap.Error(ErrUnsupportedPlatform))
		return nil, ErrUnsupportedPlatform
	}

	if s.pipeline == nil {
		s.pipeline = NewInstancedPipeline()
	}
	if s.shadowLight == nil {
		s.shadowLight = light.NewLight()
	}
	if hb, ok := r.Backend().(renderer.HeadlessBackend); ok {
		hb.RegisterCPUKernel(culling.PipelineKey, culling.Kernel)
		hb.RegisterCPUKernel(culling.HiZPipelineKey, culling.HiZKernel)
	}
	if err := r.RegisterPipelines(culling.NewPipeline(), culling.NewHiZPipeline(), s.pipeline); err != nil {
		s.logger.Error("pipeline registration failed", zap.Error(err))
		return nil, err
	}
	if err := s.createTargets(); err != nil {
		s.releaseTargets()
		s.logger.Error("render target creation failed", zap.Error(err))
		return nil, err
	}

	s.groups = render_source.NewRenderSourceGroupProvider(r,
		render_source.WithLogger(s.logger),
		render_source.WithMotionVectors(settings.MotionVectors),
	)
	s.sources = render_source.NewRenderSourceProvider(s.groups)
	s.cameras = camera.NewCameraDataProvider(r,
		camera.WithLogger(s.logger),
		camera.WithAutoRegister(settings.AutoRegisterCameras),
	)
	s.params = parameter_buffer.NewParameterBuffer(
		parameter_buffer.WithLabel("Instancer Parameters"),
		parameter_buffer.WithLogger(s.logger),
	)

	s.logger.Info("rendering system created",
		zap.Int("max_buffer_size", settings.MaxBufferSize),
		zap.Bool("occlusion_culling", settings.OcclusionCulling),
		zap.Bool("motion_vectors", settings.MotionVectors),
		zap.Int("shadow_map_size", s.shadowMapSize),
	)
	return s, nil
}

// createTargets creates the shadow map and the 1x1 far-depth Hi-Z stand-in bound while a
// camera has no Hi-Z texture.
func (s *renderingSystem) createTargets() error {
	shadowMap, err := s.r.CreateTexture(resource.TextureDescriptor{
		Label:         "Instancer Shadow Map",
		Width:         uint32(s.shadowMapSize),
		Height:        uint32(s.shadowMapSize),
		Format:        resource.TextureFormatDepth32Float,
		MipLevelCount: 1,
	}, nil)
	if err != nil {
		return fmt.Errorf("create shadow map: %w", err)
	}
	s.shadowMap = shadowMap
	s.r.SetShadowTarget(shadowMap)

	emptyHiZ, err := s.r.CreateTexture(resource.TextureDescriptor{
		Label:         "Empty Hi-Z",
		Width:         1,
		Height:        1,
		Format:        resource.TextureFormatR32Float,
		MipLevelCount: 1,
	}, common.Float32sToBytes([]float32{1}))
	if err != nil {
		return fmt.Errorf("create empty Hi-Z: %w", err)
	}
	s.emptyHiZ = emptyHiZ
	return nil
}

func (s *renderingSystem) releaseTargets() {
	if s.shadowMap != nil {
		s.r.SetShadowTarget(nil)
		s.r.ReleaseTexture(s.shadowMap)
		s.shadowMap = nil
	}
	if s.emptyHiZ != nil {
		s.r.ReleaseTexture(s.emptyHiZ)
		s.emptyHiZ = nil
	}
}

func (s *renderingSystem) Groups() []render_source.RenderSourceGroup {
	if s.disposed {
		return nil
	}
	return s.groups.Groups()
}

func (s *renderingSystem) Cameras() camera.CameraDataProvider {
	return s.cameras
}

func (s *renderingSystem) ShadowLight() light.Light {
	return s.shadowLight
}

func (s *renderingSystem) Settings() config.Settings {
	return s.settings
}

func (s *renderingSystem) ApplySettings(settings config.Settings) error {
	if s.disposed {
		return ErrDisposed
	}
	if err := settings.Validate(); err != nil {
		s.logger.Error("settings rejected", zap.Error(err))
		return fmt.Errorf("apply settings: %w", err)
	}
	if settings.MotionVectors != s.settings.MotionVectors {
		if err := s.groups.SetMotionVectors(settings.MotionVectors); err != nil {
			s.logger.Error("motion vector toggle failed", zap.Error(err))
			return fmt.Errorf("apply settings: %w", err)
		}
		s.dirty = true
	}
	if settings.OcclusionCulling != s.settings.OcclusionCulling && !settings.OcclusionCulling {
		for _, data := range s.cameras.All() {
			data.SetHiZ(s.r, nil, camera.NeverUpdated)
		}
	}
	s.cameras.SetAutoRegister(settings.AutoRegisterCameras)
	s.settings = settings
	s.logger.Info("settings applied",
		zap.Int("max_buffer_size", settings.MaxBufferSize),
		zap.Int("maximum_lod_level", settings.MaximumLODLevel),
		zap.Float32("lod_bias", settings.LODBias),
		zap.Bool("occlusion_culling", settings.OcclusionCulling),
	)
	return nil
}

func (s *renderingSystem) OnFrameEnd() error {
	if s.disposed {
		return nil
	}
	var errs []error
	for _, g := range s.groups.Groups() {
		if err := g.CopyToPrevious(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Key(), err))
		}
	}
	s.cameras.EndFrame()
	s.last = s.current
	s.current = Stats{}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("frame end failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *renderingSystem) Stats() Stats {
	out := s.last
	if s.disposed {
		return out
	}
	groups := s.groups.Groups()
	out.Groups = len(groups)
	out.Sources = s.sources.Len()
	out.Cameras = len(s.cameras.All())
	for _, g := range groups {
		out.Instances += g.InstanceCount()
	}
	return out
}

func (s *renderingSystem) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.cameras.Dispose()
	s.sources.DisposeAll()
	s.params.Release(s.r)
	s.releaseTargets()
	clear(s.materialBlocks)
	clear(s.overrideGen)
	clear(s.lodVersions)
	s.logger.Info("rendering system disposed")
}

// fail logs a rejected call and returns its error.
func (s *renderingSystem) fail(op string, key int, err error) error {
	s.logger.Error(op+" failed", zap.Int("renderer_key", key), zap.Error(err))
	return err
}
