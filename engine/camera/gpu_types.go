package camera

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUCameraUniformSource is the canonical WGSL definition of the CameraUniform struct.
// Matches GPUCameraUniform layout exactly (144 bytes).
//
//go:embed assets/camera_uniform.wgsl
var GPUCameraUniformSource string

// GPUCameraUniform is the GPU-aligned representation of the per-camera view uniform bound as the
// view group of every instanced draw.
// Matches the WGSL CameraUniform struct layout exactly (see GPUCameraUniformSource).
// Size: 144 bytes.
type GPUCameraUniform struct {
	ViewProj       [16]float32 // offset   0: combined view-projection matrix (mat4x4<f32>)
	PrevViewProj   [16]float32 // offset  64: previous frame view-projection for motion vectors
	CameraPosition [3]float32  // offset 128: world-space camera position (vec3<f32>)
	CullingMask    uint32      // offset 140: layer mask of the camera
}

// Size returns the size of the GPUCameraUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (144)
func (g *GPUCameraUniform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCameraUniform struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUCameraUniform) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.ViewProj[i]))
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(g.PrevViewProj[i]))
	}
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[128+i*4:], math.Float32bits(g.CameraPosition[i]))
	}
	binary.LittleEndian.PutUint32(buf[140:], g.CullingMask)
	return buf
}

// Floats returns the uniform as float words for a property block. The culling mask is
// stored bit-for-bit.
//
// Returns:
//   - []float32: 36 float words
func (g *GPUCameraUniform) Floats() []float32 {
	out := make([]float32, 0, 36)
	out = append(out, g.ViewProj[:]...)
	out = append(out, g.PrevViewProj[:]...)
	out = append(out, g.CameraPosition[:]...)
	return append(out, math.Float32frombits(g.CullingMask))
}
