package pipeline

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with vertex and fragment shader entry points.
	PipelineTypeRender
)

// pipeline is the implementation of the Pipeline interface.
// It describes a render or compute pipeline and caches the backend objects compiled for each
// keyword variant.
type pipeline struct {
	mu *sync.Mutex

	// pipelineType indicates the type of pipeline this is; compute or render
	pipelineType PipelineType
	// pipelineKey is the unique identifier for this pipeline, used for caching and lookups
	pipelineKey string

	vertexShader, fragmentShader, computeShader shader.Shader

	// Explicit resource layout shared by every keyword variant. Variants may only change
	// shader bodies, never bindings, so a single layout serves them all.
	bindGroupLayouts map[int]wgpu.BindGroupLayoutDescriptor
	vertexLayouts    []wgpu.VertexBufferLayout
	reflectLayouts   bool

	// variants caches compiled backend pipelines keyed by canonical variant key.
	variants map[shader.KeywordSet]any

	// The following properties are used to configure render pipelines during creation and can be toggled/set with the builder options.
	depthTestEnabled    bool
	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	topology            wgpu.PrimitiveTopology
	frontFace           wgpu.FrontFace
	writeMask           wgpu.ColorWriteMask
	blendState          *wgpu.BlendState
	shadowCaster        bool
}

// Pipeline defines the interface for a GPU pipeline description, encapsulating either a render
// pipeline (vertex + fragment shaders) or a compute pipeline (compute shader). The same
// description is compiled once per shader keyword variant; compiled objects are cached on
// the pipeline by the backend.
type Pipeline interface {
	// Type returns the type of the pipeline
	//
	// Returns:
	//   - PipelineType: the type of the pipeline (render or compute)
	Type() PipelineType

	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Shader retrieves the shader associated with the specified type if it exists, nil otherwise.
	//
	// Parameters:
	//   - shaderType: the type of shader to retrieve (vertex, fragment, or compute)
	//
	// Returns:
	//   - shader.Shader: the shader associated with the specified type, or nil if not set
	Shader(shaderType shader.ShaderType) shader.Shader

	// BindGroupLayouts returns the bind group layout descriptors keyed by group index.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: the layouts
	BindGroupLayouts() map[int]wgpu.BindGroupLayoutDescriptor

	// VertexLayouts returns the vertex buffer layouts of a render pipeline.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the vertex layouts
	VertexLayouts() []wgpu.VertexBufferLayout

	// VariantKey reduces a KeywordSet to the keywords any of this pipeline's shaders declare.
	//
	// Parameters:
	//   - keywords: the requested keywords
	//
	// Returns:
	//   - shader.KeywordSet: the canonical variant key
	VariantKey(keywords shader.KeywordSet) shader.KeywordSet

	// Variant returns the compiled backend object for a variant key, if cached.
	// Note: The caller is responsible for type asserting the returned value.
	//
	// Parameters:
	//   - key: the canonical variant key
	//
	// Returns:
	//   - any: the compiled pipeline object
	//   - bool: true if the variant has been compiled
	Variant(key shader.KeywordSet) (any, bool)

	// SetVariant caches a compiled backend object for a variant key.
	//
	// Parameters:
	//   - key: the canonical variant key
	//   - compiled: the backend pipeline object
	SetVariant(key shader.KeywordSet, compiled any)

	// Variants returns every compiled variant.
	//
	// Returns:
	//   - map[shader.KeywordSet]any: the compiled variants (do not mutate)
	Variants() map[shader.KeywordSet]any

	// ShadowCaster reports whether the pipeline has a depth-only variant usable in shadow passes.
	//
	// Returns:
	//   - bool: true if the pipeline renders into shadow passes
	ShadowCaster() bool

	DepthTestEnabled() bool
	DepthWriteEnabled() bool
	DepthBias() int32
	DepthBiasSlopeScale() float32
	BlendEnabled() bool
	CullMode() wgpu.CullMode
	Topology() wgpu.PrimitiveTopology
	FrontFace() wgpu.FrontFace
	WriteMask() wgpu.ColorWriteMask
	BlendState() *wgpu.BlendState
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a new Pipeline description with default render state, then applies options.
//
// Parameters:
//   - pipelineKey: the unique key for the pipeline
//   - pipelineType: render or compute
//   - opts: functional options
//
// Returns:
//   - Pipeline: the new pipeline description
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		mu:                &sync.Mutex{},
		pipelineKey:       pipelineKey,
		pipelineType:      pipelineType,
		bindGroupLayouts:  make(map[int]wgpu.BindGroupLayoutDescriptor),
		variants:          make(map[shader.KeywordSet]any),
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		blendEnabled:      false,
		cullMode:          wgpu.CullModeBack,
		topology:          wgpu.PrimitiveTopologyTriangleList,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
		blendState: &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reflectLayouts {
		p.applyReflection()
	}
	return p
}

// applyReflection fills undeclared layouts from the shaders' sources.
func (p *pipeline) applyReflection() {
	var stages []map[int]wgpu.BindGroupLayoutDescriptor
	for _, s := range []shader.Shader{p.vertexShader, p.fragmentShader, p.computeShader} {
		if s == nil {
			continue
		}
		r := shader.Reflect(s)
		stages = append(stages, r.BindGroupLayouts)
		if s.ShaderType() == shader.ShaderTypeVertex && len(p.vertexLayouts) == 0 {
			p.vertexLayouts = r.VertexLayouts
		}
	}
	for group, desc := range shader.MergeBindGroupLayouts(stages...) {
		if _, declared := p.bindGroupLayouts[group]; declared {
			continue
		}
		desc.Label = fmt.Sprintf("%s group %d", p.pipelineKey, group)
		p.bindGroupLayouts[group] = desc
	}
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	default:
		return nil
	}
}

func (p *pipeline) BindGroupLayouts() map[int]wgpu.BindGroupLayoutDescriptor {
	return p.bindGroupLayouts
}

func (p *pipeline) VertexLayouts() []wgpu.VertexBufferLayout {
	return p.vertexLayouts
}

func (p *pipeline) VariantKey(keywords shader.KeywordSet) shader.KeywordSet {
	var key shader.KeywordSet
	for _, s := range []shader.Shader{p.vertexShader, p.fragmentShader, p.computeShader} {
		if s == nil {
			continue
		}
		key = key.Union(s.VariantKey(keywords))
	}
	return key
}

func (p *pipeline) Variant(key shader.KeywordSet) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	compiled, ok := p.variants[key]
	return compiled, ok
}

func (p *pipeline) SetVariant(key shader.KeywordSet, compiled any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.variants[key] = compiled
}

func (p *pipeline) Variants() map[shader.KeywordSet]any {
	return p.variants
}

func (p *pipeline) ShadowCaster() bool {
	return p.shadowCaster
}

func (p *pipeline) DepthTestEnabled() bool {
	return p.depthTestEnabled
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) DepthBias() int32 {
	return p.depthBias
}

func (p *pipeline) DepthBiasSlopeScale() float32 {
	return p.depthBiasSlopeScale
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}
