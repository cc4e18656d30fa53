package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// bindGroupEvictFrames is how many frames an unused cached bind group survives.
const bindGroupEvictFrames = 120

// wgpuTexture is the native object behind a resource.Texture on this backend.
type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

// pipelineLayouts holds the layouts shared by every variant of one pipeline.
type pipelineLayouts struct {
	groups []*wgpu.BindGroupLayout
	layout *wgpu.PipelineLayout
}

type bindGroupKey struct {
	pipelineKey string
	group       int
	block       property_block.PropertyBlock
	version     uint64
}

type cachedBindGroup struct {
	bindGroup *wgpu.BindGroup
	lastUsed  int
}

type floatBufferKey struct {
	block   property_block.PropertyBlock
	binding int
}

type floatBuffer struct {
	buffer  *wgpu.Buffer
	size    uint64
	version uint64
}

type recordedDraw struct {
	pipeline pipeline.Pipeline
	cmd      DrawCommand
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	logger *zap.Logger
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat        *wgpu.TextureFormat
	msaaTextureView      *wgpu.TextureView
	depthTexture         *resource.Texture
	renderPassDescriptor *wgpu.RenderPassDescriptor
	defaultSampler       *wgpu.Sampler

	presentMode wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)
	sampleCount MSAASampleCount  // MSAA sample count for the main render pass

	// Frame state. Draws are recorded between BeginFrame and EndFrame and encoded at EndFrame,
	// shadow pass first, so the visibility dispatches of every camera land before any draw.
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
	mainDraws    []recordedDraw
	shadowDraws  []recordedDraw
	shadowTarget *resource.Texture
	frameIndex   int

	// Compute frame state for batching all compute dispatches into a single GPU submission
	computeFrameEncoder *wgpu.CommandEncoder

	layouts      map[string]*pipelineLayouts
	bindGroups   map[bindGroupKey]*cachedBindGroup
	floatBuffers map[floatBufferKey]*floatBuffer

	current FrameStats
	last    FrameStats
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount, logger *zap.Logger) *wgpuRendererBackendImpl {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:           &sync.Mutex{},
		logger:       logger,
		instance:     wgpu.CreateInstance(nil),
		presentMode:  wgpu.PresentModeImmediate,
		sampleCount:  sampleCount,
		layouts:      make(map[string]*pipelineLayouts),
		bindGroups:   make(map[bindGroupKey]*cachedBindGroup),
		floatBuffers: make(map[floatBufferKey]*floatBuffer),
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	// Instanced pipelines bind instance, material and view groups.
	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 4

	// Indirect args carry the visibility buffer shift in FirstInstance.
	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "Main Device",
		RequiredFeatures: []wgpu.FeatureName{wgpu.FeatureNameIndirectFirstInstance},
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	w.defaultSampler, err = d.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Default Sampler",
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		panic(err)
	}

	return w
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = &capabilities.Formats[0]
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	count := uint32(b.sampleCount)
	msaaEnabled := count > 1

	if msaaEnabled {
		// Create the MSAA texture that the render pass draws into; the resolved
		// result is written to the swapchain view as the ResolveTarget.
		msaaTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        *b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(err)
		}
		b.msaaTextureView, err = msaaTexture.CreateView(nil)
		if err != nil {
			panic(err)
		}
	} else {
		b.msaaTextureView = nil
	}

	// Depth sample count must match the color attachment. Depth is kept (StoreOpStore) and
	// bindable so the Hi-Z pass can read it when MSAA is off.
	depthTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		panic(err)
	}
	depthView, err := depthTexture.CreateView(nil)
	if err != nil {
		panic(err)
	}
	if old, ok := b.depthTexture.Native().(*wgpuTexture); ok {
		old.view.Release()
		old.texture.Release()
		b.depthTexture.Invalidate()
	}
	b.depthTexture = resource.NewTexture(resource.TextureDescriptor{
		Label:         "Depth Texture",
		Width:         uint32(width),
		Height:        uint32(height),
		Format:        resource.TextureFormatDepth32Float,
		MipLevelCount: 1,
	}, &wgpuTexture{texture: depthTexture, view: depthView})

	// When MSAA is enabled, View is the MSAA texture and ResolveTarget is set per-frame to the
	// swapchain view. When disabled, View is set per-frame to the swapchain view.
	storeOp := wgpu.StoreOpStore
	if msaaEnabled {
		storeOp = wgpu.StoreOpDiscard
	}
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:          b.msaaTextureView,
				ResolveTarget: nil,
				LoadOp:        wgpu.LoadOpClear,
				StoreOp:       storeOp,
				ClearValue: wgpu.Color{
					R: 0.1, G: 0.1, B: 0.1, A: 1.0,
				},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	}
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) SupportsCompute() bool {
	return b.device != nil
}

func (b *wgpuRendererBackendImpl) CreateBuffer(label string, size uint64, usage resource.BufferUsage) (*resource.Buffer, error) {
	size = alignBufferSize(size)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: toWGPUBufferUsage(usage),
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}
	return resource.NewBuffer(label, size, usage, buf), nil
}

func (b *wgpuRendererBackendImpl) WriteBuffer(buf *resource.Buffer, offset uint64, data []byte) error {
	native, ok := buf.Native().(*wgpu.Buffer)
	if !ok {
		return fmt.Errorf("write %q: %w", buf.Label(), ErrInvalidBuffer)
	}
	if len(data) == 0 {
		return nil
	}
	// queue writes must be a multiple of 4 bytes
	if pad := len(data) % 4; pad != 0 {
		padded := make([]byte, len(data)+4-pad)
		copy(padded, data)
		data = padded
	}
	if offset+uint64(len(data)) > buf.Size() {
		return fmt.Errorf("write %q [%d:%d] of %d: %w", buf.Label(), offset, offset+uint64(len(data)), buf.Size(), ErrOutOfRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteBuffer(native, offset, data)
	b.current.BufferWrites++
	b.current.BytesWritten += uint64(len(data))
	return nil
}

func (b *wgpuRendererBackendImpl) CopyBuffer(src *resource.Buffer, srcOffset uint64, dst *resource.Buffer, dstOffset, size uint64) error {
	s, okS := src.Native().(*wgpu.Buffer)
	d, okD := dst.Native().(*wgpu.Buffer)
	if !okS || !okD {
		return fmt.Errorf("copy %q -> %q: %w", src.Label(), dst.Label(), ErrInvalidBuffer)
	}
	if srcOffset+size > src.Size() || dstOffset+size > dst.Size() {
		return fmt.Errorf("copy %q -> %q (%d bytes): %w", src.Label(), dst.Label(), size, ErrOutOfRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()
	encoder.CopyBufferToBuffer(s, srcOffset, d, dstOffset, size)
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer commandBuffer.Release()
	b.queue.Submit(commandBuffer)
	return nil
}

func (b *wgpuRendererBackendImpl) ReadBuffer(buf *resource.Buffer) ([]byte, error) {
	src, ok := buf.Native().(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("read %q: %w", buf.Label(), ErrInvalidBuffer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: buf.Label() + " Readback",
		Size:  buf.Size(),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(src, 0, staging, 0, buf.Size())
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	if err := staging.MapAsync(wgpu.MapModeRead, 0, buf.Size(), func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return nil, err
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("read %q: map status %s", buf.Label(), status.String())
	}
	out := make([]byte, buf.Size())
	copy(out, staging.GetMappedRange(0, uint(buf.Size())))
	staging.Unmap()
	return out, nil
}

func (b *wgpuRendererBackendImpl) ReleaseBuffer(buf *resource.Buffer) {
	if native, ok := buf.Native().(*wgpu.Buffer); ok {
		native.Release()
	}
	buf.Invalidate()
}

func (b *wgpuRendererBackendImpl) CreateTexture(desc resource.TextureDescriptor, pixels []byte) (*resource.Texture, error) {
	if desc.MipLevelCount == 0 {
		desc.MipLevelCount = 1
	}
	usage := wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst
	if desc.StorageBinding {
		usage |= wgpu.TextureUsageStorageBinding
	}
	if desc.Format == resource.TextureFormatDepth32Float {
		usage |= wgpu.TextureUsageRenderAttachment
	}

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        toWGPUTextureFormat(desc.Format),
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("create texture view %q: %w", desc.Label, err)
	}
	handle := resource.NewTexture(desc, &wgpuTexture{texture: tex, view: view})
	if len(pixels) > 0 {
		if err := b.WriteTexture(handle, pixels); err != nil {
			b.ReleaseTexture(handle)
			return nil, err
		}
	}
	return handle, nil
}

func (b *wgpuRendererBackendImpl) WriteTexture(tex *resource.Texture, pixels []byte) error {
	native, ok := tex.Native().(*wgpuTexture)
	if !ok {
		return ErrInvalidTexture
	}
	desc := tex.Descriptor()
	bpp := uint32(desc.Format.BytesPerPixel())
	if uint32(len(pixels)) != desc.Width*desc.Height*bpp {
		return fmt.Errorf("texture %q expects %d bytes, got %d: %w", desc.Label, desc.Width*desc.Height*bpp, len(pixels), ErrOutOfRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  native.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  desc.Width * bpp,
			RowsPerImage: desc.Height,
		},
		&wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (b *wgpuRendererBackendImpl) ReleaseTexture(tex *resource.Texture) {
	if native, ok := tex.Native().(*wgpuTexture); ok {
		native.view.Release()
		native.texture.Release()
	}
	tex.Invalidate()
}

func (b *wgpuRendererBackendImpl) DepthTexture() *resource.Texture {
	return b.depthTexture
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeVertex) == nil {
		return errors.New("a vertex shader must be set to create a render pipeline")
	}
	if p.Shader(shader.ShaderTypeFragment) == nil && !p.ShadowCaster() {
		return errors.New("a fragment shader must be set on a render pipeline that is not a shadow caster")
	}
	if p.Shader(shader.ShaderTypeFragment) == nil {
		_, err := b.renderVariant(p, "", RenderPassShadow)
		return err
	}
	_, err := b.renderVariant(p, "", RenderPassMain)
	return err
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeCompute) == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}
	_, err := b.computeVariant(p, "")
	return err
}

// layoutsFor creates (once per pipeline) the bind group layouts and pipeline layout shared by
// every variant. Gaps between declared groups get an empty layout.
func (b *wgpuRendererBackendImpl) layoutsFor(p pipeline.Pipeline) (*pipelineLayouts, error) {
	if l, ok := b.layouts[p.PipelineKey()]; ok {
		return l, nil
	}

	descriptors := p.BindGroupLayouts()
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	groups := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := 0; g <= maxGroup; g++ {
		desc, ok := descriptors[g]
		if !ok {
			desc = wgpu.BindGroupLayoutDescriptor{Label: fmt.Sprintf("%s empty group %d", p.PipelineKey(), g)}
		}
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, err)
		}
		groups[g] = layout
	}

	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: groups,
	})
	if err != nil {
		return nil, err
	}
	l := &pipelineLayouts{groups: groups, layout: pipelineLayout}
	b.layouts[p.PipelineKey()] = l
	return l, nil
}

func (b *wgpuRendererBackendImpl) shaderModule(s shader.Shader, keywords shader.KeywordSet) (*wgpu.ShaderModule, error) {
	src, err := s.Variant(keywords)
	if err != nil {
		return nil, err
	}
	return b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: s.Key() + " [" + string(s.VariantKey(keywords)) + "]",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: src,
		},
	})
}

// renderVariant returns the compiled render pipeline for a keyword variant, compiling it on
// first use. Shadow variants are depth-only, single-sampled and carry SHADOW_PASS.
func (b *wgpuRendererBackendImpl) renderVariant(p pipeline.Pipeline, keywords shader.KeywordSet, pass RenderPass) (*wgpu.RenderPipeline, error) {
	key := variantKey(p, keywords, pass)
	if compiled, ok := p.Variant(key); ok {
		return compiled.(*wgpu.RenderPipeline), nil
	}

	layouts, err := b.layoutsFor(p)
	if err != nil {
		return nil, err
	}
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	vs, err := b.shaderModule(vertexShader, key)
	if err != nil {
		return nil, err
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline [" + string(key) + "]",
		Layout: layouts.layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
			Buffers:    p.VertexLayouts(),
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
	}

	depthCompare := wgpu.CompareFunctionLess
	if !p.DepthTestEnabled() {
		depthCompare = wgpu.CompareFunctionAlways
	}
	depth := &wgpu.DepthStencilState{
		Format:              wgpu.TextureFormatDepth32Float,
		DepthWriteEnabled:   p.DepthWriteEnabled(),
		DepthCompare:        depthCompare,
		DepthBias:           p.DepthBias(),
		DepthBiasSlopeScale: p.DepthBiasSlopeScale(),
		StencilFront: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilBack: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
	}

	if pass == RenderPassShadow {
		// No fragment stage; shadow maps are never multisampled.
		depth.DepthWriteEnabled = true
		depth.DepthCompare = wgpu.CompareFunctionLess
		desc.Multisample = wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF}
	} else {
		fragmentShader := p.Shader(shader.ShaderTypeFragment)
		fs, err := b.shaderModule(fragmentShader, key)
		if err != nil {
			return nil, err
		}
		target := wgpu.ColorTargetState{
			Format:    *b.surfaceFormat,
			WriteMask: p.WriteMask(),
		}
		if p.BlendEnabled() {
			target.Blend = p.BlendState()
		}
		desc.Fragment = &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		}
		desc.Multisample = wgpu.MultisampleState{Count: uint32(b.sampleCount), Mask: 0xFFFFFFFF}
	}
	desc.DepthStencil = depth

	created, err := b.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, err
	}
	p.SetVariant(key, created)
	b.logger.Debug("render variant compiled", zap.String("pipeline", p.PipelineKey()), zap.String("variant", string(key)))
	return created, nil
}

func (b *wgpuRendererBackendImpl) computeVariant(p pipeline.Pipeline, keywords shader.KeywordSet) (*wgpu.ComputePipeline, error) {
	key := variantKey(p, keywords, RenderPassMain)
	if compiled, ok := p.Variant(key); ok {
		return compiled.(*wgpu.ComputePipeline), nil
	}

	layouts, err := b.layoutsFor(p)
	if err != nil {
		return nil, err
	}
	computeShader := p.Shader(shader.ShaderTypeCompute)
	s, err := b.shaderModule(computeShader, key)
	if err != nil {
		return nil, err
	}
	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline [" + string(key) + "]",
		Layout: layouts.layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return nil, err
	}
	p.SetVariant(key, created)
	return created, nil
}

// bindGroup resolves a property block against one group layout of a pipeline. Bind groups
// are cached per block version, so a block is only re-bound after it changes.
func (b *wgpuRendererBackendImpl) bindGroup(p pipeline.Pipeline, group int, block property_block.PropertyBlock) (*wgpu.BindGroup, error) {
	desc, ok := p.BindGroupLayouts()[group]
	if !ok {
		return nil, nil
	}
	layouts, err := b.layoutsFor(p)
	if err != nil {
		return nil, err
	}
	if block == nil {
		block = property_block.NewPropertyBlock("empty")
	}

	key := bindGroupKey{pipelineKey: p.PipelineKey(), group: group, block: block, version: block.Version()}
	if cached, ok := b.bindGroups[key]; ok {
		cached.lastUsed = b.frameIndex
		return cached.bindGroup, nil
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, entry := range desc.Entries {
		binding := int(entry.Binding)
		switch {
		case entry.Buffer.Type != wgpu.BufferBindingTypeUndefined:
			buf, err := b.bufferForBinding(block, binding)
			if err != nil {
				return nil, err
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: entry.Binding,
				Buffer:  buf,
				Offset:  0,
				Size:    wgpu.WholeSize,
			})
		case entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined,
			entry.StorageTexture.Format != wgpu.TextureFormatUndefined:
			tex, ok := block.Texture(binding).Native().(*wgpuTexture)
			if !ok {
				return nil, fmt.Errorf("%s group %d binding %d (texture): %w", p.PipelineKey(), group, binding, ErrMissingBinding)
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding:     entry.Binding,
				TextureView: tex.view,
			})
		case entry.Sampler.Type != wgpu.SamplerBindingTypeUndefined:
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: entry.Binding,
				Sampler: b.defaultSampler,
			})
		}
	}

	created, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   block.Label() + " Bind Group",
		Layout:  layouts.groups[group],
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	b.bindGroups[key] = &cachedBindGroup{bindGroup: created, lastUsed: b.frameIndex}
	return created, nil
}

// bufferForBinding returns the buffer bound at a binding, packing float bindings into a
// backend-owned uniform buffer that is rewritten when the block's version changes.
func (b *wgpuRendererBackendImpl) bufferForBinding(block property_block.PropertyBlock, binding int) (*wgpu.Buffer, error) {
	if buf, ok := block.Buffer(binding).Native().(*wgpu.Buffer); ok {
		return buf, nil
	}
	values := block.Floats(binding)
	if values == nil {
		return nil, fmt.Errorf("%s binding %d: %w", block.Label(), binding, ErrMissingBinding)
	}

	data := common.Float32sToBytes(values)
	size := uint64(len(data)+15) &^ 15
	fk := floatBufferKey{block: block, binding: binding}
	fb, ok := b.floatBuffers[fk]
	if !ok || fb.size < size {
		if ok {
			fb.buffer.Release()
		}
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("%s floats %d", block.Label(), binding),
			Size:  size,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, err
		}
		fb = &floatBuffer{buffer: buf, size: size, version: ^uint64(0)}
		b.floatBuffers[fk] = fb
	}
	if fb.version != block.Version() {
		padded := make([]byte, size)
		copy(padded, data)
		b.queue.WriteBuffer(fb.buffer, 0, padded)
		fb.version = block.Version()
	}
	return fb.buffer, nil
}

func (b *wgpuRendererBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) EndComputeFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return
	}

	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	if err != nil {
		b.logger.Warn("compute frame finish failed", zap.Error(err))
		b.computeFrameEncoder.Release()
		b.computeFrameEncoder = nil
		return
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
}

// DispatchCompute encodes into the batched compute frame when one is open, otherwise into a
// one-shot encoder that is submitted immediately.
func (b *wgpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, d ComputeDispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	computePipeline, err := b.computeVariant(p, d.Keywords)
	if err != nil {
		return err
	}
	bindGroup, err := b.bindGroup(p, 0, d.Bindings)
	if err != nil {
		return err
	}

	encoder := b.computeFrameEncoder
	oneShot := encoder == nil
	if oneShot {
		encoder, err = b.device.CreateCommandEncoder(nil)
		if err != nil {
			return err
		}
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	if bindGroup != nil {
		pass.SetBindGroup(0, bindGroup, nil)
	}
	pass.DispatchWorkgroups(d.WorkgroupCount[0], d.WorkgroupCount[1], d.WorkgroupCount[2])
	pass.End()
	b.current.Dispatches++

	if oneShot {
		commandBuffer, err := encoder.Finish(nil)
		encoder.Release()
		if err != nil {
			return err
		}
		b.queue.Submit(commandBuffer)
		commandBuffer.Release()
	}
	return nil
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If a previous frame's surface texture is still held, avoid acquiring another one.
	// wgpu-native rejects overlapping acquisitions with "Surface image is already acquired".
	if b.frameSurface != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}

	b.frameSurface = surfaceTexture
	b.frameView = view
	b.mainDraws = b.mainDraws[:0]
	b.shadowDraws = b.shadowDraws[:0]
	return nil
}

func (b *wgpuRendererBackendImpl) Draw(p pipeline.Pipeline, cmd DrawCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameView == nil {
		return ErrNoFrame
	}
	if !cmd.Mesh.Valid() || !cmd.ArgsBuffer.Valid() {
		return fmt.Errorf("draw %s: %w", cmd.PipelineKey, ErrInvalidBuffer)
	}
	if cmd.ArgsOffset+IndirectArgsStride > cmd.ArgsBuffer.Size() {
		return fmt.Errorf("draw %s args at %d: %w", cmd.PipelineKey, cmd.ArgsOffset, ErrOutOfRange)
	}
	if cmd.Pass == RenderPassShadow {
		if !b.shadowTarget.Valid() {
			return nil
		}
		b.shadowDraws = append(b.shadowDraws, recordedDraw{pipeline: p, cmd: cmd})
		return nil
	}
	b.mainDraws = append(b.mainDraws, recordedDraw{pipeline: p, cmd: cmd})
	return nil
}

func (b *wgpuRendererBackendImpl) SetShadowTarget(tex *resource.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shadowTarget = tex
}

// encodeDraw binds a recorded draw on a pass. Failures drop the draw and are logged.
func (b *wgpuRendererBackendImpl) encodeDraw(pass *wgpu.RenderPassEncoder, d recordedDraw) bool {
	rp, err := b.renderVariant(d.pipeline, d.cmd.Keywords, d.cmd.Pass)
	if err != nil {
		b.logger.Warn("draw dropped", zap.String("pipeline", d.cmd.PipelineKey), zap.Error(err))
		return false
	}
	blocks := [...]property_block.PropertyBlock{
		GroupInstance: d.cmd.Instance,
		GroupMaterial: d.cmd.Material,
		GroupView:     d.cmd.View,
	}
	groups := make([]*wgpu.BindGroup, len(blocks))
	for g, block := range blocks {
		bg, err := b.bindGroup(d.pipeline, g, block)
		if err != nil {
			b.logger.Warn("draw dropped", zap.String("pipeline", d.cmd.PipelineKey), zap.Int("group", g), zap.Error(err))
			return false
		}
		groups[g] = bg
	}

	pass.SetPipeline(rp)
	for g, bg := range groups {
		if bg != nil {
			pass.SetBindGroup(uint32(g), bg, nil)
		}
	}
	pass.SetVertexBuffer(0, d.cmd.Mesh.Vertex.Native().(*wgpu.Buffer), 0, wgpu.WholeSize)
	pass.SetIndexBuffer(d.cmd.Mesh.Index.Native().(*wgpu.Buffer), wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	pass.DrawIndexedIndirect(d.cmd.ArgsBuffer.Native().(*wgpu.Buffer), d.cmd.ArgsOffset)
	return true
}

func (b *wgpuRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameView == nil {
		return
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		b.logger.Error("frame encoder creation failed", zap.Error(err))
		return
	}

	if target, ok := b.shadowTarget.Native().(*wgpuTexture); ok && len(b.shadowDraws) > 0 {
		shadowPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			ColorAttachments: nil,
			DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
				View:            target.view,
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore,
				DepthClearValue: 1.0,
			},
		})
		for _, d := range b.shadowDraws {
			if b.encodeDraw(shadowPass, d) {
				b.current.ShadowDrawCalls++
			}
		}
		shadowPass.End()
	}

	// When MSAA is enabled, the MSAA texture is the color attachment View and the swapchain
	// view is the ResolveTarget. When MSAA is off, the swapchain view is the View directly.
	if b.sampleCount > 1 {
		b.renderPassDescriptor.ColorAttachments[0].ResolveTarget = b.frameView
	} else {
		b.renderPassDescriptor.ColorAttachments[0].View = b.frameView
	}
	mainPass := encoder.BeginRenderPass(b.renderPassDescriptor)
	for _, d := range b.mainDraws {
		if b.encodeDraw(mainPass, d) {
			b.current.DrawCalls++
		}
	}
	mainPass.End()

	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		b.logger.Error("frame finish failed", zap.Error(err))
	} else {
		b.queue.Submit(commandBuffer)
		commandBuffer.Release()
	}

	b.mainDraws = b.mainDraws[:0]
	b.shadowDraws = b.shadowDraws[:0]
	b.evictBindGroups()
	b.frameIndex++
	b.last = b.current
	b.current = FrameStats{}
}

func (b *wgpuRendererBackendImpl) evictBindGroups() {
	for key, cached := range b.bindGroups {
		if b.frameIndex-cached.lastUsed > bindGroupEvictFrames {
			cached.bindGroup.Release()
			delete(b.bindGroups, key)
		}
	}
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}

	b.surface.Present()

	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuRendererBackendImpl) Stats() FrameStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, cached := range b.bindGroups {
		cached.bindGroup.Release()
		delete(b.bindGroups, key)
	}
	for key, fb := range b.floatBuffers {
		fb.buffer.Release()
		delete(b.floatBuffers, key)
	}
	for key, l := range b.layouts {
		l.layout.Release()
		for _, g := range l.groups {
			g.Release()
		}
		delete(b.layouts, key)
	}
	if b.defaultSampler != nil {
		b.defaultSampler.Release()
		b.defaultSampler = nil
	}
}

func toWGPUBufferUsage(u resource.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u.Has(resource.BufferUsageStorage) {
		out |= wgpu.BufferUsageStorage
	}
	if u.Has(resource.BufferUsageUniform) {
		out |= wgpu.BufferUsageUniform
	}
	if u.Has(resource.BufferUsageIndirect) {
		out |= wgpu.BufferUsageIndirect
	}
	if u.Has(resource.BufferUsageCopySrc) {
		out |= wgpu.BufferUsageCopySrc
	}
	if u.Has(resource.BufferUsageCopyDst) {
		out |= wgpu.BufferUsageCopyDst
	}
	if u.Has(resource.BufferUsageVertex) {
		out |= wgpu.BufferUsageVertex
	}
	if u.Has(resource.BufferUsageIndex) {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

func toWGPUTextureFormat(f resource.TextureFormat) wgpu.TextureFormat {
	switch f {
	case resource.TextureFormatR8Unorm:
		return wgpu.TextureFormatR8Unorm
	case resource.TextureFormatR32Float:
		return wgpu.TextureFormatR32Float
	case resource.TextureFormatDepth32Float:
		return wgpu.TextureFormatDepth32Float
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}
