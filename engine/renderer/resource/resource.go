// Package resource defines the API-agnostic GPU resource handles shared by the renderer backends,
// property blocks and every system that owns GPU memory. Handles carry the backend's native
// object opaquely; only the backend that created a handle may interpret it.
package resource

// BufferUsage is a bit set describing how a GPU buffer will be used.
type BufferUsage uint32

const (
	// BufferUsageStorage allows binding the buffer as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << iota
	// BufferUsageUniform allows binding the buffer as a uniform buffer.
	BufferUsageUniform
	// BufferUsageIndirect allows using the buffer as indirect draw/dispatch arguments.
	BufferUsageIndirect
	// BufferUsageCopySrc allows the buffer to be the source of a copy.
	BufferUsageCopySrc
	// BufferUsageCopyDst allows writes and copies into the buffer.
	BufferUsageCopyDst
	// BufferUsageVertex allows binding the buffer as a vertex buffer.
	BufferUsageVertex
	// BufferUsageIndex allows binding the buffer as an index buffer.
	BufferUsageIndex
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// Buffer is a handle to a GPU buffer created by a renderer backend.
type Buffer struct {
	label  string
	size   uint64
	usage  BufferUsage
	native any
}

// NewBuffer wraps a backend-native buffer object in a handle.
// Only renderer backends should call this.
//
// Parameters:
//   - label: debug label
//   - size: the size in bytes
//   - usage: the usage flags the buffer was created with
//   - native: the backend object
//
// Returns:
//   - *Buffer: the handle
func NewBuffer(label string, size uint64, usage BufferUsage, native any) *Buffer {
	return &Buffer{label: label, size: size, usage: usage, native: native}
}

// Label returns the debug label.
func (b *Buffer) Label() string {
	if b == nil {
		return ""
	}
	return b.label
}

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 {
	if b == nil {
		return 0
	}
	return b.size
}

// Usage returns the usage flags.
func (b *Buffer) Usage() BufferUsage {
	if b == nil {
		return 0
	}
	return b.usage
}

// Native returns the backend object, or nil once released.
func (b *Buffer) Native() any {
	if b == nil {
		return nil
	}
	return b.native
}

// Valid reports whether the handle still refers to live GPU memory.
func (b *Buffer) Valid() bool {
	return b != nil && b.native != nil
}

// Invalidate drops the native object. Backends call this on release so stale handles
// can be detected.
func (b *Buffer) Invalidate() {
	if b != nil {
		b.native = nil
	}
}

// TextureFormat is the pixel format of a texture.
type TextureFormat int

const (
	// TextureFormatR8Unorm is a single normalized 8-bit channel (density, holes).
	TextureFormatR8Unorm TextureFormat = iota
	// TextureFormatRGBA8Unorm is four normalized 8-bit channels.
	TextureFormatRGBA8Unorm
	// TextureFormatR32Float is a single 32-bit float channel (heightmaps, Hi-Z).
	TextureFormatR32Float
	// TextureFormatDepth32Float is a 32-bit depth attachment.
	TextureFormatDepth32Float
)

// BytesPerPixel returns the pixel size of the format.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRGBA8Unorm, TextureFormatR32Float, TextureFormatDepth32Float:
		return 4
	}
	return 0
}

// TextureDescriptor describes a 2D texture to create.
type TextureDescriptor struct {
	Label         string
	Width, Height uint32
	Format        TextureFormat
	MipLevelCount uint32
	// StorageBinding allows compute shaders to write the texture (Hi-Z pyramids).
	StorageBinding bool
}

// Texture is a handle to a GPU texture created by a renderer backend.
type Texture struct {
	desc   TextureDescriptor
	native any
}

// NewTexture wraps a backend-native texture object in a handle.
func NewTexture(desc TextureDescriptor, native any) *Texture {
	return &Texture{desc: desc, native: native}
}

// Descriptor returns the creation descriptor.
func (t *Texture) Descriptor() TextureDescriptor {
	if t == nil {
		return TextureDescriptor{}
	}
	return t.desc
}

// Native returns the backend object, or nil once released.
func (t *Texture) Native() any {
	if t == nil {
		return nil
	}
	return t.native
}

// Valid reports whether the handle still refers to a live texture.
func (t *Texture) Valid() bool {
	return t != nil && t.native != nil
}

// Invalidate drops the native object.
func (t *Texture) Invalidate() {
	if t != nil {
		t.native = nil
	}
}

// MeshBuffers holds the uploaded vertex and index buffers of a mesh.
type MeshBuffers struct {
	Vertex     *Buffer
	Index      *Buffer
	IndexCount uint32
}

// Valid reports whether both buffers are live.
func (m *MeshBuffers) Valid() bool {
	return m != nil && m.Vertex.Valid() && m.Index.Valid()
}
