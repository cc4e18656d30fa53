package property_block

import (
	"maps"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
)

// propertyBlock is the implementation of the PropertyBlock interface.
type propertyBlock struct {
	label string

	// Resources keyed by binding index within the draw's instance bind group.
	buffers  map[int]*resource.Buffer
	textures map[int]*resource.Texture
	floats   map[int][]float32

	// version increments on every mutation so backends can cache bind groups.
	version uint64
}

// PropertyBlock holds the per-draw GPU resources bound alongside a material:
// transform and visibility buffers, per-draw constants and material property overrides.
// Resources are keyed by binding index; float bindings are packed into a small uniform
// buffer by the backend at draw time.
type PropertyBlock interface {
	// Label returns the debug label of this block.
	//
	// Returns:
	//   - string: the label
	Label() string

	// Version returns a counter that changes whenever the block is mutated.
	//
	// Returns:
	//   - uint64: the mutation counter
	Version() uint64

	// Buffer returns the buffer bound at the given binding, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *resource.Buffer: the bound buffer or nil
	Buffer(binding int) *resource.Buffer

	// Buffers returns all bound buffers keyed by binding.
	//
	// Returns:
	//   - map[int]*resource.Buffer: the bound buffers (do not mutate)
	Buffers() map[int]*resource.Buffer

	// Texture returns the texture bound at the given binding, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *resource.Texture: the bound texture or nil
	Texture(binding int) *resource.Texture

	// Textures returns all bound textures keyed by binding.
	//
	// Returns:
	//   - map[int]*resource.Texture: the bound textures (do not mutate)
	Textures() map[int]*resource.Texture

	// Floats returns the float values bound at the given binding, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - []float32: the bound values or nil
	Floats(binding int) []float32

	// FloatBindings returns every float binding in ascending binding order.
	//
	// Returns:
	//   - []int: the sorted binding indices that carry float values
	FloatBindings() []int

	// SetBuffer binds a buffer. A nil buffer removes the binding.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the buffer to bind
	SetBuffer(binding int, buf *resource.Buffer)

	// SetTexture binds a texture. A nil texture removes the binding.
	//
	// Parameters:
	//   - binding: the binding index
	//   - tex: the texture to bind
	SetTexture(binding int, tex *resource.Texture)

	// SetFloats binds a list of floats. An empty list removes the binding.
	// The values are copied.
	//
	// Parameters:
	//   - binding: the binding index
	//   - values: the values to bind
	SetFloats(binding int, values ...float32)

	// CopyFrom replaces the contents of this block with the contents of other.
	//
	// Parameters:
	//   - other: the block to copy from (nil clears this block)
	CopyFrom(other PropertyBlock)

	// Clone returns a deep copy of this block.
	//
	// Returns:
	//   - PropertyBlock: the copy
	Clone() PropertyBlock

	// Clear removes every binding.
	Clear()
}

var _ PropertyBlock = &propertyBlock{}

// NewPropertyBlock creates a new empty PropertyBlock configured by the given options.
//
// Parameters:
//   - label: the debug label
//   - options: functional options applied after construction
//
// Returns:
//   - PropertyBlock: the new block
func NewPropertyBlock(label string, options ...PropertyBlockOption) PropertyBlock {
	p := &propertyBlock{
		label:    label,
		buffers:  make(map[int]*resource.Buffer),
		textures: make(map[int]*resource.Texture),
		floats:   make(map[int][]float32),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *propertyBlock) Label() string {
	return p.label
}

func (p *propertyBlock) Version() uint64 {
	return p.version
}

func (p *propertyBlock) Buffer(binding int) *resource.Buffer {
	return p.buffers[binding]
}

func (p *propertyBlock) Buffers() map[int]*resource.Buffer {
	return p.buffers
}

func (p *propertyBlock) Texture(binding int) *resource.Texture {
	return p.textures[binding]
}

func (p *propertyBlock) Textures() map[int]*resource.Texture {
	return p.textures
}

func (p *propertyBlock) Floats(binding int) []float32 {
	return p.floats[binding]
}

func (p *propertyBlock) FloatBindings() []int {
	return slices.Sorted(maps.Keys(p.floats))
}

func (p *propertyBlock) SetBuffer(binding int, buf *resource.Buffer) {
	p.version++
	if buf == nil {
		delete(p.buffers, binding)
		return
	}
	p.buffers[binding] = buf
}

func (p *propertyBlock) SetTexture(binding int, tex *resource.Texture) {
	p.version++
	if tex == nil {
		delete(p.textures, binding)
		return
	}
	p.textures[binding] = tex
}

func (p *propertyBlock) SetFloats(binding int, values ...float32) {
	p.version++
	if len(values) == 0 {
		delete(p.floats, binding)
		return
	}
	p.floats[binding] = slices.Clone(values)
}

func (p *propertyBlock) CopyFrom(other PropertyBlock) {
	p.Clear()
	if other == nil {
		return
	}
	maps.Copy(p.buffers, other.Buffers())
	maps.Copy(p.textures, other.Textures())
	for _, binding := range other.FloatBindings() {
		p.floats[binding] = slices.Clone(other.Floats(binding))
	}
}

func (p *propertyBlock) Clone() PropertyBlock {
	c := NewPropertyBlock(p.label)
	c.CopyFrom(p)
	return c
}

func (p *propertyBlock) Clear() {
	p.version++
	clear(p.buffers)
	clear(p.textures)
	clear(p.floats)
}
