package model

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
)

// GPUVertexSource is the canonical WGSL definition of the VertexInput struct for instanced mesh pipelines.
// Matches GPUVertex layout exactly (48 bytes).
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUVertex is the GPU-aligned representation of a single mesh vertex.
// Matches the WGSL VertexInput struct layout exactly (see GPUVertexSource).
// Size: 48 bytes, no padding required.
type GPUVertex struct {
	Position [3]float32 // offset  0: vertex position in mesh space (12 bytes)
	Normal   [3]float32 // offset 12: vertex normal (12 bytes)
	TexCoord [2]float32 // offset 24: UV texture coordinate (8 bytes)
	Color    [4]float32 // offset 32: per-vertex RGBA color (16 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 48)
	g.Put(buf)
	return buf
}

// Put writes the vertex into dst, which must hold at least 48 bytes.
func (g *GPUVertex) Put(dst []byte) {
	fields := [12]float32{
		g.Position[0], g.Position[1], g.Position[2],
		g.Normal[0], g.Normal[1], g.Normal[2],
		g.TexCoord[0], g.TexCoord[1],
		g.Color[0], g.Color[1], g.Color[2], g.Color[3],
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
}

// VertexStride is the byte stride of one GPUVertex in a vertex buffer.
const VertexStride = 48

// GPUVertexLayout returns the vertex buffer layout matching GPUVertex for render pipelines.
//
// Returns:
//   - wgpu.VertexBufferLayout: the per-vertex layout with four attributes
func GPUVertexLayout() wgpu.VertexBufferLayout {
	return wgpu.VertexBufferLayout{
		ArrayStride: VertexStride,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes: []wgpu.VertexAttribute{
			{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
			{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
			{Format: wgpu.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
			{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 3},
		},
	}
}

// MarshalVertices packs vertices into a tightly packed vertex buffer.
//
// Parameters:
//   - vertices: the vertices to pack
//
// Returns:
//   - []byte: len(vertices)*VertexStride bytes
func MarshalVertices(vertices []GPUVertex) []byte {
	buf := make([]byte, len(vertices)*VertexStride)
	for i := range vertices {
		vertices[i].Put(buf[i*VertexStride:])
	}
	return buf
}
