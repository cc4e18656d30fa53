package renderer

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeHeadless selects the in-memory backend. Buffers live in host memory, draws and
	// dispatches are recorded, and compute dispatches run registered CPU kernels.
	BackendTypeHeadless
)

// String returns the config name of the backend type.
func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeHeadless:
		return "headless"
	default:
		return "wgpu"
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// Only specific power-of-two values are valid for GPU hardware. WebGPU guarantees support for
// 1 (off) and 4; higher values (8, 16) are adapter-dependent and may not be available.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1). Required for Hi-Z occlusion,
	// which samples the depth attachment directly.
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4

	// MSAA8x enables 8× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA8x MSAASampleCount = 8

	// MSAA16x enables 16× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA16x MSAASampleCount = 16
)

var (
	// ErrInvalidBuffer is returned when an operation targets a nil or released buffer.
	ErrInvalidBuffer = errors.New("renderer: invalid buffer")
	// ErrInvalidTexture is returned when an operation targets a nil or released texture.
	ErrInvalidTexture = errors.New("renderer: invalid texture")
	// ErrOutOfRange is returned when a write or copy exceeds the bounds of a buffer.
	ErrOutOfRange = errors.New("renderer: range out of bounds")
	// ErrUnknownPipeline is returned when a draw or dispatch names an unregistered pipeline.
	ErrUnknownPipeline = errors.New("renderer: unknown pipeline")
	// ErrMissingBinding is returned when a bind group layout entry has no resource.
	ErrMissingBinding = errors.New("renderer: missing binding")
	// ErrBufferTooLarge is returned when a buffer exceeds the device's maximum buffer size.
	ErrBufferTooLarge = errors.New("renderer: buffer exceeds maximum size")
	// ErrNoFrame is returned when a draw is issued outside BeginFrame/EndFrame.
	ErrNoFrame = errors.New("renderer: no frame in progress")
)

// RendererBackend is the contract every GPU backend implements. The Renderer facade owns
// the pipeline cache and forwards everything else here.
type RendererBackend interface {
	// ConfigureSurface (re)creates surface-sized attachments.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SetPresentMode sets the surface present mode. Takes effect on the next ConfigureSurface.
	SetPresentMode(mode PresentMode)

	// SupportsCompute reports whether compute dispatches and storage buffers are available.
	SupportsCompute() bool

	CreateBuffer(label string, size uint64, usage resource.BufferUsage) (*resource.Buffer, error)
	WriteBuffer(buf *resource.Buffer, offset uint64, data []byte) error
	CopyBuffer(src *resource.Buffer, srcOffset uint64, dst *resource.Buffer, dstOffset, size uint64) error
	ReadBuffer(buf *resource.Buffer) ([]byte, error)
	ReleaseBuffer(buf *resource.Buffer)

	CreateTexture(desc resource.TextureDescriptor, pixels []byte) (*resource.Texture, error)
	WriteTexture(tex *resource.Texture, pixels []byte) error
	ReleaseTexture(tex *resource.Texture)

	// DepthTexture returns the main pass depth attachment, or nil before ConfigureSurface.
	DepthTexture() *resource.Texture

	RegisterRenderPipeline(p pipeline.Pipeline) error
	RegisterComputePipeline(p pipeline.Pipeline) error

	BeginComputeFrame() error
	DispatchCompute(p pipeline.Pipeline, d ComputeDispatch) error
	EndComputeFrame()

	BeginFrame() error
	Draw(p pipeline.Pipeline, cmd DrawCommand) error
	SetShadowTarget(tex *resource.Texture)
	EndFrame()
	Present()

	// Stats returns the counters of the last completed frame.
	Stats() FrameStats

	// Release frees every backend-owned object.
	Release()
}

// variantKey returns the cache key of the compiled variant a draw or dispatch uses. Shadow
// variants always carry SHADOW_PASS so they never collide with the main pass variant, even when
// no shader declares the keyword.
func variantKey(p pipeline.Pipeline, keywords shader.KeywordSet, pass RenderPass) shader.KeywordSet {
	key := p.VariantKey(keywords)
	if pass == RenderPassShadow {
		key = key.With(shader.KeywordShadowPass)
	}
	return key
}

// writeBlocks resolves staged property block writes against a backend.
func writeBlocks(b RendererBackend, writes []property_block.BufferWrite) error {
	var errs []error
	for _, w := range writes {
		if w.Block == nil {
			continue
		}
		buf := w.Block.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		if err := b.WriteBuffer(buf, w.Offset, w.Data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
