package property_block

import "github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"

// PropertyBlockOption is a functional option used to configure a PropertyBlock during construction.
type PropertyBlockOption func(*propertyBlock)

// WithBuffer binds a buffer at a specific binding index.
//
// Parameters:
//   - binding: the binding index for this buffer
//   - buf: the buffer to associate with this binding
//
// Returns:
//   - PropertyBlockOption: a function that sets the buffer for the specified binding
func WithBuffer(binding int, buf *resource.Buffer) PropertyBlockOption {
	return func(p *propertyBlock) {
		if buf != nil {
			p.buffers[binding] = buf
		}
	}
}

// WithTexture binds a texture at a specific binding index.
//
// Parameters:
//   - binding: the binding index for this texture
//   - tex: the texture to associate with this binding
//
// Returns:
//   - PropertyBlockOption: a function that sets the texture for the specified binding
func WithTexture(binding int, tex *resource.Texture) PropertyBlockOption {
	return func(p *propertyBlock) {
		if tex != nil {
			p.textures[binding] = tex
		}
	}
}

// WithFloats binds float constants at a specific binding index.
//
// Parameters:
//   - binding: the binding index for the values
//   - values: the values to bind
//
// Returns:
//   - PropertyBlockOption: a function that sets the floats for the specified binding
func WithFloats(binding int, values ...float32) PropertyBlockOption {
	return func(p *propertyBlock) {
		if len(values) > 0 {
			p.floats[binding] = append([]float32(nil), values...)
		}
	}
}
