package renderer

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// SurfaceSource supplies the presentation surface for the WebGPU backend.
// window.Window satisfies it; the headless backend ignores it.
type SurfaceSource interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
	Width() int
	Height() int
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend
	logger      *zap.Logger

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
	headlessCompute      bool
	headlessSize         [2]int
	headlessMaxBuffer    uint64
	cpuKernels           map[string]CPUKernel
}

// Renderer defines the interface for the rendering system.
//
// This is a high-level API designed to simplify rendering tasks into a streamlined and idiomatic flow.
// The Renderer manages a cache of pipelines and hands out API-agnostic resource handles, so
// systems above it never touch a graphics API directly. Draws are recorded between BeginFrame
// and EndFrame and encoded at EndFrame with the shadow pass ahead of the main pass.
type Renderer interface {
	// Backend returns the active backend. Tests type-assert it to HeadlessBackend.
	//
	// Returns:
	//   - RendererBackend: the backend
	Backend() RendererBackend

	// BackendType returns the type of the active backend.
	//
	// Returns:
	//   - RendererBackendType: the backend type
	BackendType() RendererBackendType

	// SupportsCompute reports whether compute shaders and storage buffers are available.
	//
	// Returns:
	//   - bool: true if compute is supported
	SupportsCompute() bool

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines registers one or more pipelines by compiling their base variant via the
	// backend, then caching them by PipelineKey. Keys that are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Resize configures the underlying backend to handle a new surface size.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode. A call to Resize is required after
	// changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// CreateBuffer allocates a zero-initialized GPU buffer.
	//
	// Parameters:
	//   - label: debug label
	//   - size: size in bytes (rounded up to a multiple of 4 by the backend)
	//   - usage: usage flags
	//
	// Returns:
	//   - *resource.Buffer: the buffer handle
	//   - error: an error if allocation fails
	CreateBuffer(label string, size uint64, usage resource.BufferUsage) (*resource.Buffer, error)

	// WriteBuffer queues a write into a buffer. Writes land before the next submitted pass.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: byte offset into the buffer
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: ErrInvalidBuffer or ErrOutOfRange
	WriteBuffer(buf *resource.Buffer, offset uint64, data []byte) error

	// WriteBuffers writes all staged property block writes. Writes whose block has no buffer
	// at the target binding are skipped.
	//
	// Parameters:
	//   - writes: a slice of BufferWrite structs describing the data to write
	//
	// Returns:
	//   - error: the joined write errors, if any
	WriteBuffers(writes []property_block.BufferWrite) error

	// CopyBuffer copies a byte range between buffers on the GPU timeline.
	//
	// Parameters:
	//   - src: the source buffer
	//   - srcOffset: byte offset into src
	//   - dst: the destination buffer
	//   - dstOffset: byte offset into dst
	//   - size: number of bytes to copy
	//
	// Returns:
	//   - error: ErrInvalidBuffer or ErrOutOfRange
	CopyBuffer(src *resource.Buffer, srcOffset uint64, dst *resource.Buffer, dstOffset, size uint64) error

	// ReadBuffer reads a buffer back to host memory, blocking until the GPU is done with it.
	// Intended for tests and tooling; the buffer needs BufferUsageCopySrc on WebGPU.
	//
	// Parameters:
	//   - buf: the buffer to read
	//
	// Returns:
	//   - []byte: a copy of the buffer contents
	//   - error: an error if the read fails
	ReadBuffer(buf *resource.Buffer) ([]byte, error)

	// ReleaseBuffer frees the buffer and invalidates the handle. Nil-safe.
	ReleaseBuffer(buf *resource.Buffer)

	// CreateTexture creates a 2D texture and uploads pixels when non-empty.
	//
	// Parameters:
	//   - desc: the texture descriptor
	//   - pixels: tightly packed pixel data or nil
	//
	// Returns:
	//   - *resource.Texture: the texture handle
	//   - error: an error if creation fails
	CreateTexture(desc resource.TextureDescriptor, pixels []byte) (*resource.Texture, error)

	// WriteTexture replaces the full contents of mip 0.
	WriteTexture(tex *resource.Texture, pixels []byte) error

	// ReleaseTexture frees the texture and invalidates the handle. Nil-safe.
	ReleaseTexture(tex *resource.Texture)

	// DepthTexture returns the main pass depth attachment.
	DepthTexture() *resource.Texture

	// UploadMesh creates vertex and index buffers for a mesh.
	//
	// Parameters:
	//   - label: debug label
	//   - vertexData: raw vertex bytes
	//   - indexData: raw uint32 index bytes
	//
	// Returns:
	//   - *resource.MeshBuffers: the uploaded mesh
	//   - error: an error if either buffer cannot be created
	UploadMesh(label string, vertexData, indexData []byte) (*resource.MeshBuffers, error)

	// ReleaseMesh releases both mesh buffers. Nil-safe.
	ReleaseMesh(m *resource.MeshBuffers)

	// BeginComputeFrame opens the batched compute encoder for this frame.
	BeginComputeFrame() error

	// DispatchCompute encodes a dispatch into the current compute frame.
	//
	// Parameters:
	//   - d: the dispatch description
	//
	// Returns:
	//   - error: ErrUnknownPipeline or a backend error
	DispatchCompute(d ComputeDispatch) error

	// EndComputeFrame submits the batched compute work.
	EndComputeFrame()

	// BeginFrame acquires the swapchain texture and opens the frame's draw list.
	BeginFrame() error

	// DrawIndirect records an indirect instanced draw into the current frame.
	//
	// Parameters:
	//   - cmd: the draw command
	//
	// Returns:
	//   - error: ErrUnknownPipeline, ErrNoFrame or a backend error
	DrawIndirect(cmd DrawCommand) error

	// SetShadowTarget sets the depth texture the shadow pass renders into. Shadow draws are
	// dropped while no target is set.
	SetShadowTarget(tex *resource.Texture)

	// EndFrame encodes the shadow and main passes and submits them.
	EndFrame()

	// Present presents the surface to the display and releases the swapchain texture.
	Present()

	// Stats returns the counters of the last completed frame.
	Stats() FrameStats

	// Release frees every GPU object owned by the backend.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer instance with the specified backend type.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - surface: the presentation surface (required for BackendTypeWGPU, ignored for BackendTypeHeadless)
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, surface SurfaceSource, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:              &sync.Mutex{},
		pipelineCache:   make(map[string]pipeline.Pipeline),
		backendType:     backendType,
		logger:          zap.NewNop(),
		headlessCompute: true,
		headlessSize:    [2]int{1280, 720},
		cpuKernels:      make(map[string]CPUKernel),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	msaa := MSAA4x
	if r.pendingMSAA != nil {
		msaa = *r.pendingMSAA
	}

	width, height := r.headlessSize[0], r.headlessSize[1]
	switch backendType {
	case BackendTypeHeadless:
		hb := newHeadlessRendererBackend(r.headlessCompute, r.logger)
		hb.maxBufferSize = r.headlessMaxBuffer
		for name, fn := range r.cpuKernels {
			hb.RegisterCPUKernel(name, fn)
		}
		r.backend = hb
	case BackendTypeWGPU:
		fallthrough
	default:
		if surface == nil {
			panic("renderer: the wgpu backend requires a surface")
		}
		r.backend = newWGPURendererBackend(surface.SurfaceDescriptor(), r.forceFallbackAdapter, msaa, r.logger)
		width, height = surface.Width(), surface.Height()
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	r.backend.ConfigureSurface(width, height)
	r.logger.Info("renderer created",
		zap.Stringer("backend", backendType),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Bool("compute", r.backend.SupportsCompute()),
	)
	return r
}

func (r *renderer) Backend() RendererBackend {
	return r.backend
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (r *renderer) SupportsCompute() bool {
	return r.backend.SupportsCompute()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return fmt.Errorf("register compute pipeline %s: %w", key, err)
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return fmt.Errorf("register render pipeline %s: %w", key, err)
			}
		}
		r.pipelineCache[key] = p
		r.logger.Debug("pipeline registered", zap.String("pipeline", key))
	}
	return nil
}

func (r *renderer) CreateBuffer(label string, size uint64, usage resource.BufferUsage) (*resource.Buffer, error) {
	return r.backend.CreateBuffer(label, size, usage)
}

func (r *renderer) WriteBuffer(buf *resource.Buffer, offset uint64, data []byte) error {
	return r.backend.WriteBuffer(buf, offset, data)
}

func (r *renderer) WriteBuffers(writes []property_block.BufferWrite) error {
	return writeBlocks(r.backend, writes)
}

func (r *renderer) CopyBuffer(src *resource.Buffer, srcOffset uint64, dst *resource.Buffer, dstOffset, size uint64) error {
	return r.backend.CopyBuffer(src, srcOffset, dst, dstOffset, size)
}

func (r *renderer) ReadBuffer(buf *resource.Buffer) ([]byte, error) {
	return r.backend.ReadBuffer(buf)
}

func (r *renderer) ReleaseBuffer(buf *resource.Buffer) {
	r.backend.ReleaseBuffer(buf)
}

func (r *renderer) CreateTexture(desc resource.TextureDescriptor, pixels []byte) (*resource.Texture, error) {
	return r.backend.CreateTexture(desc, pixels)
}

func (r *renderer) WriteTexture(tex *resource.Texture, pixels []byte) error {
	return r.backend.WriteTexture(tex, pixels)
}

func (r *renderer) ReleaseTexture(tex *resource.Texture) {
	r.backend.ReleaseTexture(tex)
}

func (r *renderer) DepthTexture() *resource.Texture {
	return r.backend.DepthTexture()
}

func (r *renderer) UploadMesh(label string, vertexData, indexData []byte) (*resource.MeshBuffers, error) {
	vb, err := r.backend.CreateBuffer(label+" Vertex Buffer", uint64(len(vertexData)), resource.BufferUsageVertex|resource.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	if err := r.backend.WriteBuffer(vb, 0, vertexData); err != nil {
		r.backend.ReleaseBuffer(vb)
		return nil, err
	}
	ib, err := r.backend.CreateBuffer(label+" Index Buffer", uint64(len(indexData)), resource.BufferUsageIndex|resource.BufferUsageCopyDst)
	if err != nil {
		r.backend.ReleaseBuffer(vb)
		return nil, err
	}
	if err := r.backend.WriteBuffer(ib, 0, indexData); err != nil {
		r.backend.ReleaseBuffer(vb)
		r.backend.ReleaseBuffer(ib)
		return nil, err
	}
	return &resource.MeshBuffers{Vertex: vb, Index: ib, IndexCount: uint32(len(indexData) / 4)}, nil
}

func (r *renderer) ReleaseMesh(m *resource.MeshBuffers) {
	if m == nil {
		return
	}
	r.backend.ReleaseBuffer(m.Vertex)
	r.backend.ReleaseBuffer(m.Index)
}

func (r *renderer) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) DispatchCompute(d ComputeDispatch) error {
	p := r.Pipeline(d.PipelineKey)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, d.PipelineKey)
	}
	return r.backend.DispatchCompute(p, d)
}

func (r *renderer) EndComputeFrame() {
	r.backend.EndComputeFrame()
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawIndirect(cmd DrawCommand) error {
	p := r.Pipeline(cmd.PipelineKey)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, cmd.PipelineKey)
	}
	return r.backend.Draw(p, cmd)
}

func (r *renderer) SetShadowTarget(tex *resource.Texture) {
	r.backend.SetShadowTarget(tex)
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Stats() FrameStats {
	return r.backend.Stats()
}

func (r *renderer) Release() {
	r.backend.Release()
}
