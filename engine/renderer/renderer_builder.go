package renderer

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"go.uber.org/zap"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithPipeline pre-registers a single Pipeline description in the renderer's pipeline cache.
// The pipeline is compiled lazily on first use.
//
// Parameters:
//   - p: the Pipeline to cache
//
// Returns:
//   - RendererBuilderOption: a function that applies the pipeline option to a renderer
func WithPipeline(p pipeline.Pipeline) RendererBuilderOption {
	return func(r *renderer) {
		r.pipelineCache[p.PipelineKey()] = p
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingPresentMode = &mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count for the renderer.
// When not specified, the default is MSAA4x. Use MSAAOff to disable MSAA entirely.
// Higher values (MSAA8x, MSAA16x) are adapter-dependent and may not be supported
// by all hardware.
//
// Parameters:
//   - count: the MSAASampleCount to use (MSAAOff, MSAA4x, MSAA8x, or MSAA16x)
//
// Returns:
//   - RendererBuilderOption: a function that applies the MSAA option to a renderer
func WithMSAA(count MSAASampleCount) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingMSAA = &count
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithLogger sets the logger used by the renderer and its backend.
func WithLogger(logger *zap.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHeadlessCompute toggles compute support on the headless backend, which lets tests
// exercise the unsupported-platform path.
func WithHeadlessCompute(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessCompute = enabled
	}
}

// WithHeadlessSize sets the virtual surface size of the headless backend.
func WithHeadlessSize(width, height int) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessSize = [2]int{width, height}
	}
}

// WithHeadlessMaxBufferSize caps the byte size of buffers the headless backend will create, the
// way an adapter's maxBufferSize limit does. Zero means unlimited.
func WithHeadlessMaxBufferSize(size uint64) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessMaxBuffer = size
	}
}

// WithCPUKernel registers a CPU kernel on the headless backend for the given compute pipeline key.
//
// Parameters:
//   - pipelineKey: the compute pipeline the kernel stands in for
//   - kernel: the kernel function
//
// Returns:
//   - RendererBuilderOption: a function that registers the kernel
func WithCPUKernel(pipelineKey string, kernel CPUKernel) RendererBuilderOption {
	return func(r *renderer) {
		r.cpuKernels[pipelineKey] = kernel
	}
}
