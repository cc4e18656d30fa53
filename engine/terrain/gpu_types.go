package terrain

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"unsafe"
)

//go:embed assets/vegetation.wgsl
var vegetationSource string

// UniformsSize is the byte size of GPUVegetationUniforms.
const UniformsSize = 80

// GPUVegetationUniforms is the per prototype uniform block of the vegetation dispatch.
// Size: 80 bytes.
type GPUVegetationUniforms struct {
	TerrainPosition  [3]float32 // offset 0
	ViewDistance     float32    // offset 12
	TerrainSize      [3]float32 // offset 16
	Density          float32    // offset 28: prototype density multiplier
	CameraPosition   [3]float32 // offset 32
	MinScale         float32    // offset 44
	MaxScale         float32    // offset 48
	DetailResolution uint32     // offset 52: cells per axis
	MaxInstances     uint32     // offset 56: transform slots available after StartIndex
	StartIndex       uint32     // offset 60: first transform slot written
	NoiseSpread      float32    // offset 64: cell jitter in [0, 1]
	_                [3]float32 // offset 68
}

// Size returns the size of the GPUVegetationUniforms struct in bytes.
func (g *GPUVegetationUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the uniforms for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUVegetationUniforms) Marshal() []byte {
	buf, _ := binary.Append(make([]byte, 0, UniformsSize), binary.LittleEndian, g)
	return buf
}

// UnmarshalUniforms decodes a uniform block.
func UnmarshalUniforms(src []byte) (GPUVegetationUniforms, error) {
	var g GPUVegetationUniforms
	err := binary.Read(bytes.NewReader(src), binary.LittleEndian, &g)
	return g, err
}
