package material

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
)

// MaterialBuilderOption is a function that configures a material instance during construction.
type MaterialBuilderOption func(*material)

// WithName is an option builder that sets the name of the material.
//
// Parameters:
//   - name: the identifier for the material
//
// Returns:
//   - MaterialBuilderOption: a function that applies the name option to a material
func WithName(name string) MaterialBuilderOption {
	return func(m *material) {
		m.name = name
	}
}

// WithPipelineKey is an option builder that sets the render pipeline the material draws with.
//
// Parameters:
//   - key: the pipeline key
//
// Returns:
//   - MaterialBuilderOption: a function that applies the pipeline key option to a material
func WithPipelineKey(key string) MaterialBuilderOption {
	return func(m *material) {
		m.pipelineKey = key
	}
}

// WithKeywords is an option builder that enables shader keywords on the material.
//
// Parameters:
//   - keywords: the keywords to enable
//
// Returns:
//   - MaterialBuilderOption: a function that applies the keywords option to a material
func WithKeywords(keywords ...string) MaterialBuilderOption {
	return func(m *material) {
		m.keywords = m.keywords.With(keywords...)
	}
}

// WithBaseColor is an option builder that sets the albedo/diffuse RGBA color of the material.
//
// Parameters:
//   - color: the base color as RGBA float32 values
//
// Returns:
//   - MaterialBuilderOption: a function that applies the base color option to a material
func WithBaseColor(color [4]float32) MaterialBuilderOption {
	return func(m *material) {
		m.params.BaseColor = color
	}
}

// WithAlphaCutoff is an option builder that sets the alpha-test threshold of the material.
//
// Parameters:
//   - cutoff: fragments with alpha below this value are discarded
//
// Returns:
//   - MaterialBuilderOption: a function that applies the alpha cutoff option to a material
func WithAlphaCutoff(cutoff float32) MaterialBuilderOption {
	return func(m *material) {
		m.params.AlphaCutoff = cutoff
	}
}

// WithTexture is an option builder that binds a texture in the material bind group.
//
// Parameters:
//   - binding: the binding slot
//   - tex: the texture
//
// Returns:
//   - MaterialBuilderOption: a function that applies the texture option to a material
func WithTexture(binding int, tex *resource.Texture) MaterialBuilderOption {
	return func(m *material) {
		m.ensureProperties()
		m.properties.SetTexture(binding, tex)
	}
}

// WithProperties is an option builder that replaces the material property block.
// GPUMaterialParams is still written to ParamsBinding after all options apply.
//
// Parameters:
//   - block: the property block to use
//
// Returns:
//   - MaterialBuilderOption: a function that applies the property block option to a material
func WithProperties(block property_block.PropertyBlock) MaterialBuilderOption {
	return func(m *material) {
		m.properties = block
	}
}

func (m *material) ensureProperties() {
	if m.properties == nil {
		m.properties = property_block.NewPropertyBlock(m.name + " Material")
	}
}
