package material

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUMaterialParamsSource is the canonical WGSL definition of the MaterialParams struct.
// Matches GPUMaterialParams layout exactly (32 bytes, std140/std430 aligned).
//
//go:embed assets/material_params.wgsl
var GPUMaterialParamsSource string

// ParamsBinding is the material bind group slot holding GPUMaterialParams.
const ParamsBinding = 0

// GPUMaterialParams is the GPU-aligned uniform every instanced material binds at ParamsBinding.
// Matches the WGSL MaterialParams struct layout exactly (see GPUMaterialParamsSource).
// Size: 32 bytes.
type GPUMaterialParams struct {
	BaseColor   [4]float32 // offset  0: RGBA albedo multiplier (16 bytes)
	AlphaCutoff float32    // offset 16: fragments below this alpha are discarded (4 bytes)
	_           [3]float32 // offset 20: padding to 32 bytes (12 bytes)
}

// Size returns the size of the GPUMaterialParams struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterialParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterialParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUMaterialParams) Marshal() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.BaseColor[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.BaseColor[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.BaseColor[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.BaseColor[3]))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.AlphaCutoff))
	return buf
}

// Floats returns the params as the float words a property block packs into a uniform buffer.
//
// Returns:
//   - []float32: 8 floats, padding included
func (g *GPUMaterialParams) Floats() []float32 {
	return []float32{g.BaseColor[0], g.BaseColor[1], g.BaseColor[2], g.BaseColor[3], g.AlphaCutoff, 0, 0, 0}
}
