package material

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
)

// material is the implementation of the Material interface.
type material struct {
	name        string
	pipelineKey string
	keywords    shader.KeywordSet
	params      GPUMaterialParams
	properties  property_block.PropertyBlock
}

// Material defines the interface for an instanced render material: the pipeline it draws with,
// the shader keywords it enables, and the property block bound as the material bind group.
//
// The property block always carries GPUMaterialParams at ParamsBinding. Textures and extra
// buffers are added to the block at construction or through Properties.
type Material interface {
	// Name retrieves the material identifier.
	//
	// Returns:
	//   - string: the name of the material
	Name() string

	// PipelineKey retrieves the key identifying the render pipeline this material uses.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// SetPipelineKey sets the render pipeline key for this material.
	//
	// Parameters:
	//   - key: the pipeline key to associate with this material
	SetPipelineKey(key string)

	// Keywords retrieves the shader keywords the material enables.
	//
	// Returns:
	//   - shader.KeywordSet: the material keywords
	Keywords() shader.KeywordSet

	// SetKeyword enables or disables a single shader keyword.
	//
	// Parameters:
	//   - keyword: the keyword to toggle
	//   - enabled: true to enable it
	SetKeyword(keyword string, enabled bool)

	// BaseColor retrieves the RGBA albedo multiplier.
	//
	// Returns:
	//   - [4]float32: the base color
	BaseColor() [4]float32

	// SetBaseColor updates the RGBA albedo multiplier and the params in the property block.
	//
	// Parameters:
	//   - color: the new base color
	SetBaseColor(color [4]float32)

	// Properties retrieves the property block bound as the material bind group.
	//
	// Returns:
	//   - property_block.PropertyBlock: the material property block
	Properties() property_block.PropertyBlock
}

var _ Material = &material{}

// NewMaterial creates a new Material instance configured with the provided options.
//
// Parameters:
//   - options: variadic list of MaterialBuilderOption functions to configure the material
//
// Returns:
//   - Material: a new Material instance
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := &material{
		params: GPUMaterialParams{BaseColor: [4]float32{1, 1, 1, 1}},
	}
	for _, opt := range options {
		opt(m)
	}
	if m.properties == nil {
		m.properties = property_block.NewPropertyBlock(m.name + " Material")
	}
	m.properties.SetFloats(ParamsBinding, m.params.Floats()...)
	return m
}

func (m *material) Name() string {
	return m.name
}

func (m *material) PipelineKey() string {
	return m.pipelineKey
}

func (m *material) SetPipelineKey(key string) {
	m.pipelineKey = key
}

func (m *material) Keywords() shader.KeywordSet {
	return m.keywords
}

func (m *material) SetKeyword(keyword string, enabled bool) {
	m.keywords = m.keywords.Toggle(keyword, enabled)
}

func (m *material) BaseColor() [4]float32 {
	return m.params.BaseColor
}

func (m *material) SetBaseColor(color [4]float32) {
	m.params.BaseColor = color
	m.properties.SetFloats(ParamsBinding, m.params.Floats()...)
}

func (m *material) Properties() property_block.PropertyBlock {
	return m.properties
}
