package render_source

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
)

// AllIndices matches every LOD or every renderer in a PropertyOverride.
const AllIndices = -1

// PropertyOverride replaces one material binding for the renderers it matches.
// Value is one of float32, []float32, mgl32.Vec4, mgl32.Mat4, *resource.Buffer or *resource.Texture.
type PropertyOverride struct {
	Binding       int
	Value         any
	LODIndex      int
	RendererIndex int
}

// Validate checks that the value has a supported type.
//
// Returns:
//   - error: ErrUnsupportedValue wrapped with the type, or nil
func (o PropertyOverride) Validate() error {
	switch o.Value.(type) {
	case float32, []float32, mgl32.Vec4, mgl32.Mat4, *resource.Buffer, *resource.Texture:
		return nil
	default:
		return fmt.Errorf("binding %d: %T: %w", o.Binding, o.Value, ErrUnsupportedValue)
	}
}

// Matches reports whether the override applies to a renderer of an LOD.
func (o PropertyOverride) Matches(lodIndex, rendererIndex int) bool {
	return (o.LODIndex == AllIndices || o.LODIndex == lodIndex) &&
		(o.RendererIndex == AllIndices || o.RendererIndex == rendererIndex)
}

// Apply writes the override value into a property block.
//
// Parameters:
//   - block: the block to modify
func (o PropertyOverride) Apply(block property_block.PropertyBlock) {
	switch v := o.Value.(type) {
	case float32:
		block.SetFloats(o.Binding, v)
	case []float32:
		block.SetFloats(o.Binding, v...)
	case mgl32.Vec4:
		block.SetFloats(o.Binding, v[:]...)
	case mgl32.Mat4:
		block.SetFloats(o.Binding, v[:]...)
	case *resource.Buffer:
		block.SetBuffer(o.Binding, v)
	case *resource.Texture:
		block.SetTexture(o.Binding, v)
	}
}

// ApplyOverrides writes every override matching (lodIndex, rendererIndex) into block, in the
// order they were added so later overrides win.
//
// Parameters:
//   - block: the block to modify
//   - overrides: the override rules
//   - lodIndex: the LOD being drawn
//   - rendererIndex: the renderer being drawn
//
// Returns:
//   - bool: true if any override applied
func ApplyOverrides(block property_block.PropertyBlock, overrides []PropertyOverride, lodIndex, rendererIndex int) bool {
	applied := false
	for _, o := range overrides {
		if o.Matches(lodIndex, rendererIndex) {
			o.Apply(block)
			applied = true
		}
	}
	return applied
}
