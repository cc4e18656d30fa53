package renderer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"go.uber.org/zap"
)

// BufferMemory exposes the host memory behind headless resources to CPU kernels.
type BufferMemory interface {
	// Bytes returns the live contents of a buffer, or nil if the handle is invalid.
	Bytes(buf *resource.Buffer) []byte
	// Pixels returns the live mip 0 contents of a texture, or nil if the handle is invalid.
	Pixels(tex *resource.Texture) []byte
}

// CPUKernel stands in for a compute pipeline on the headless backend.
type CPUKernel func(d ComputeDispatch, mem BufferMemory) error

// RecordedDraw is a draw captured by the headless backend. Args is the indirect record as it
// stood when the frame ended.
type RecordedDraw struct {
	DrawCommand
	Args    GPUIndirectArgs
	Variant shader.KeywordSet
	Frame   int
}

// HeadlessBackend is the in-memory backend. It records draws and dispatches and runs CPU
// kernels registered per compute pipeline key.
type HeadlessBackend interface {
	RendererBackend

	// RegisterCPUKernel binds a CPU kernel to a compute pipeline key.
	RegisterCPUKernel(pipelineKey string, kernel CPUKernel)

	// Draws returns every draw completed by EndFrame since the last ResetRecords.
	Draws() []RecordedDraw

	// Dispatches returns every dispatch since the last ResetRecords.
	Dispatches() []ComputeDispatch

	// ResetRecords clears recorded draws and dispatches.
	ResetRecords()

	// BufferBytes returns a copy of a buffer's contents, or nil if the handle is invalid.
	BufferBytes(buf *resource.Buffer) []byte

	// LiveBuffers returns the number of buffers that have not been released.
	LiveBuffers() int

	// Frames returns the number of completed frames.
	Frames() int
}

type headlessBuffer struct {
	data []byte
}

type headlessTexture struct {
	pixels []byte
}

type headlessRendererBackendImpl struct {
	mu     *sync.Mutex
	logger *zap.Logger

	compute       bool
	maxBufferSize uint64
	presentMode   PresentMode
	width         int
	height        int

	depth        *resource.Texture
	shadowTarget *resource.Texture

	kernels map[string]CPUKernel
	live    map[*headlessBuffer]struct{}

	inFrame    bool
	pending    []RecordedDraw
	draws      []RecordedDraw
	dispatches []ComputeDispatch
	frames     int

	current FrameStats
	last    FrameStats
}

var _ HeadlessBackend = &headlessRendererBackendImpl{}

func newHeadlessRendererBackend(compute bool, logger *zap.Logger) *headlessRendererBackendImpl {
	return &headlessRendererBackendImpl{
		mu:      &sync.Mutex{},
		logger:  logger,
		compute: compute,
		kernels: make(map[string]CPUKernel),
		live:    make(map[*headlessBuffer]struct{}),
	}
}

func (b *headlessRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.width, b.height = width, height
	if b.depth != nil {
		b.depth.Invalidate()
	}
	pixels := make([]byte, width*height*4)
	one := math.Float32bits(1)
	for i := 0; i < len(pixels); i += 4 {
		binary.LittleEndian.PutUint32(pixels[i:], one)
	}
	b.depth = resource.NewTexture(resource.TextureDescriptor{
		Label:         "Depth Texture",
		Width:         uint32(width),
		Height:        uint32(height),
		Format:        resource.TextureFormatDepth32Float,
		MipLevelCount: 1,
	}, &headlessTexture{pixels: pixels})
}

func (b *headlessRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.presentMode = mode
}

func (b *headlessRendererBackendImpl) SupportsCompute() bool {
	return b.compute
}

func (b *headlessRendererBackendImpl) CreateBuffer(label string, size uint64, usage resource.BufferUsage) (*resource.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size = alignBufferSize(size)
	if b.maxBufferSize > 0 && size > b.maxBufferSize {
		return nil, fmt.Errorf("create %q (%d bytes, limit %d): %w", label, size, b.maxBufferSize, ErrBufferTooLarge)
	}
	hb := &headlessBuffer{data: make([]byte, size)}
	b.live[hb] = struct{}{}
	return resource.NewBuffer(label, size, usage, hb), nil
}

func (b *headlessRendererBackendImpl) WriteBuffer(buf *resource.Buffer, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst := b.bytes(buf)
	if dst == nil {
		return fmt.Errorf("write %q: %w", buf.Label(), ErrInvalidBuffer)
	}
	if offset+uint64(len(data)) > uint64(len(dst)) {
		return fmt.Errorf("write %q [%d:%d] of %d: %w", buf.Label(), offset, offset+uint64(len(data)), len(dst), ErrOutOfRange)
	}
	copy(dst[offset:], data)
	b.current.BufferWrites++
	b.current.BytesWritten += uint64(len(data))
	return nil
}

func (b *headlessRendererBackendImpl) CopyBuffer(src *resource.Buffer, srcOffset uint64, dst *resource.Buffer, dstOffset, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, d := b.bytes(src), b.bytes(dst)
	if s == nil || d == nil {
		return fmt.Errorf("copy %q -> %q: %w", src.Label(), dst.Label(), ErrInvalidBuffer)
	}
	if srcOffset+size > uint64(len(s)) || dstOffset+size > uint64(len(d)) {
		return fmt.Errorf("copy %q -> %q (%d bytes): %w", src.Label(), dst.Label(), size, ErrOutOfRange)
	}
	copy(d[dstOffset:dstOffset+size], s[srcOffset:srcOffset+size])
	return nil
}

func (b *headlessRendererBackendImpl) ReadBuffer(buf *resource.Buffer) ([]byte, error) {
	out := b.BufferBytes(buf)
	if out == nil {
		return nil, fmt.Errorf("read %q: %w", buf.Label(), ErrInvalidBuffer)
	}
	return out, nil
}

func (b *headlessRendererBackendImpl) ReleaseBuffer(buf *resource.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hb, ok := buf.Native().(*headlessBuffer); ok {
		delete(b.live, hb)
	}
	buf.Invalidate()
}

func (b *headlessRendererBackendImpl) CreateTexture(desc resource.TextureDescriptor, pixels []byte) (*resource.Texture, error) {
	size := int(desc.Width) * int(desc.Height) * desc.Format.BytesPerPixel()
	if size == 0 {
		return nil, fmt.Errorf("texture %q has zero size", desc.Label)
	}
	if len(pixels) > 0 && len(pixels) != size {
		return nil, fmt.Errorf("texture %q expects %d bytes, got %d", desc.Label, size, len(pixels))
	}
	ht := &headlessTexture{pixels: make([]byte, size)}
	copy(ht.pixels, pixels)
	if desc.MipLevelCount == 0 {
		desc.MipLevelCount = 1
	}
	return resource.NewTexture(desc, ht), nil
}

func (b *headlessRendererBackendImpl) WriteTexture(tex *resource.Texture, pixels []byte) error {
	ht, ok := tex.Native().(*headlessTexture)
	if !ok {
		return ErrInvalidTexture
	}
	if len(pixels) != len(ht.pixels) {
		return fmt.Errorf("texture %q expects %d bytes, got %d: %w", tex.Descriptor().Label, len(ht.pixels), len(pixels), ErrOutOfRange)
	}
	copy(ht.pixels, pixels)
	return nil
}

func (b *headlessRendererBackendImpl) ReleaseTexture(tex *resource.Texture) {
	tex.Invalidate()
}

func (b *headlessRendererBackendImpl) DepthTexture() *resource.Texture {
	return b.depth
}

func (b *headlessRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vs := p.Shader(shader.ShaderTypeVertex)
	if vs == nil {
		return errors.New("a vertex shader must be set to create a render pipeline")
	}
	if p.Shader(shader.ShaderTypeFragment) == nil && !p.ShadowCaster() {
		return errors.New("a fragment shader must be set on a render pipeline that is not a shadow caster")
	}
	return b.compile(p, "", RenderPassMain)
}

func (b *headlessRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeCompute) == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}
	return b.compile(p, "", RenderPassMain)
}

// compile expands every shader of the pipeline for the variant so keyword errors surface the
// same way they would on a real device.
func (b *headlessRendererBackendImpl) compile(p pipeline.Pipeline, keywords shader.KeywordSet, pass RenderPass) error {
	key := variantKey(p, keywords, pass)
	if _, ok := p.Variant(key); ok {
		return nil
	}
	for _, st := range []shader.ShaderType{shader.ShaderTypeVertex, shader.ShaderTypeFragment, shader.ShaderTypeCompute} {
		s := p.Shader(st)
		if s == nil {
			continue
		}
		if pass == RenderPassShadow && st == shader.ShaderTypeFragment {
			continue
		}
		if _, err := s.Variant(key); err != nil {
			return err
		}
	}
	p.SetVariant(key, key)
	return nil
}

func (b *headlessRendererBackendImpl) BeginComputeFrame() error {
	return nil
}

func (b *headlessRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, d ComputeDispatch) error {
	if !b.compute {
		return errors.New("compute is not supported by this backend")
	}
	if err := b.compile(p, d.Keywords, RenderPassMain); err != nil {
		return err
	}

	b.mu.Lock()
	b.dispatches = append(b.dispatches, d)
	b.current.Dispatches++
	kernel := b.kernels[p.PipelineKey()]
	b.mu.Unlock()

	if kernel == nil {
		return nil
	}
	if err := kernel(d, b); err != nil {
		return fmt.Errorf("cpu kernel %s: %w", p.PipelineKey(), err)
	}
	return nil
}

func (b *headlessRendererBackendImpl) EndComputeFrame() {}

func (b *headlessRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFrame {
		return errors.New("previous frame has not ended")
	}
	b.inFrame = true
	b.pending = b.pending[:0]
	return nil
}

func (b *headlessRendererBackendImpl) Draw(p pipeline.Pipeline, cmd DrawCommand) error {
	if err := b.compile(p, cmd.Keywords, cmd.Pass); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		return ErrNoFrame
	}
	if !cmd.Mesh.Valid() {
		return fmt.Errorf("draw %s: %w", cmd.PipelineKey, ErrInvalidBuffer)
	}
	args := b.bytes(cmd.ArgsBuffer)
	if args == nil || cmd.ArgsOffset+IndirectArgsStride > uint64(len(args)) {
		return fmt.Errorf("draw %s args at %d: %w", cmd.PipelineKey, cmd.ArgsOffset, ErrOutOfRange)
	}
	if cmd.Pass == RenderPassShadow && !b.shadowTarget.Valid() {
		return nil
	}
	b.pending = append(b.pending, RecordedDraw{DrawCommand: cmd, Variant: variantKey(p, cmd.Keywords, cmd.Pass)})
	return nil
}

func (b *headlessRendererBackendImpl) SetShadowTarget(tex *resource.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shadowTarget = tex
}

func (b *headlessRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		return
	}
	for _, d := range b.pending {
		if args := b.bytes(d.ArgsBuffer); args != nil {
			d.Args = UnmarshalIndirectArgs(args[d.ArgsOffset:])
		}
		d.Frame = b.frames
		if d.Pass == RenderPassShadow {
			b.current.ShadowDrawCalls++
		} else {
			b.current.DrawCalls++
		}
		b.draws = append(b.draws, d)
	}
	b.pending = b.pending[:0]
	b.inFrame = false
	b.frames++
	b.last = b.current
	b.current = FrameStats{}
}

func (b *headlessRendererBackendImpl) Present() {}

func (b *headlessRendererBackendImpl) Stats() FrameStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *headlessRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = make(map[*headlessBuffer]struct{})
	b.pending = nil
}

func (b *headlessRendererBackendImpl) RegisterCPUKernel(pipelineKey string, kernel CPUKernel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kernels[pipelineKey] = kernel
}

func (b *headlessRendererBackendImpl) Draws() []RecordedDraw {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedDraw, len(b.draws))
	copy(out, b.draws)
	return out
}

func (b *headlessRendererBackendImpl) Dispatches() []ComputeDispatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ComputeDispatch, len(b.dispatches))
	copy(out, b.dispatches)
	return out
}

func (b *headlessRendererBackendImpl) ResetRecords() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draws = nil
	b.dispatches = nil
}

func (b *headlessRendererBackendImpl) BufferBytes(buf *resource.Buffer) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.bytes(buf)
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func (b *headlessRendererBackendImpl) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *headlessRendererBackendImpl) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Bytes implements BufferMemory. Kernels run outside the backend lock.
func (b *headlessRendererBackendImpl) Bytes(buf *resource.Buffer) []byte {
	return b.bytes(buf)
}

// Pixels implements BufferMemory.
func (b *headlessRendererBackendImpl) Pixels(tex *resource.Texture) []byte {
	if ht, ok := tex.Native().(*headlessTexture); ok {
		return ht.pixels
	}
	return nil
}

func (b *headlessRendererBackendImpl) bytes(buf *resource.Buffer) []byte {
	if hb, ok := buf.Native().(*headlessBuffer); ok {
		return hb.data
	}
	return nil
}

// alignBufferSize rounds size up to the 4-byte multiple WebGPU requires for buffer sizes.
func alignBufferSize(size uint64) uint64 {
	if size == 0 {
		return 4
	}
	return (size + 3) &^ 3
}
