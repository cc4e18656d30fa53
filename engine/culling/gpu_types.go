package culling

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/go-gl/mathgl/mgl32"
)

//go:embed assets/culling.wgsl
var cullingSource string

//go:embed assets/hiz.wgsl
var hiZSource string

// UniformsSize is the byte size of GPUCullingUniforms.
const UniformsSize = 304

// GPUCullingUniforms is the per camera and group uniform block of the culling dispatch.
// Size: 304 bytes.
type GPUCullingUniforms struct {
	Frustum          [24]float32 // offset 0: six planes, xyz normal + distance
	ViewProj         [16]float32 // offset 96
	CameraPosition   [3]float32  // offset 160
	LODBias          float32     // offset 172: system wide LOD bias
	BufferSize       uint32      // offset 176
	InstanceCount    uint32      // offset 180: live instances over every source range
	RangeCount       uint32      // offset 184
	LODCount         uint32      // offset 188
	ProfileIndex     uint32      // offset 192: profile slice in the parameter buffer
	LODIndex         uint32      // offset 196: LOD slice in the parameter buffer
	CommandStart     uint32      // offset 200: first command of the group in the args buffer
	MaterialCount    uint32      // offset 204: commands per pass
	LODClamp         uint32      // offset 208: finest LOD allowed
	ShadowEnabled    uint32      // offset 212
	TransformStride  uint32      // offset 216: floats per transform
	OcclusionEnabled uint32      // offset 220
	LODOffsets       [8]uint32   // offset 224: first command of each LOD, relative to the pass
	LODCounts        [8]uint32   // offset 256: commands of each LOD
	HiZSize          [2]float32  // offset 288
	_                [2]float32  // offset 296
}

// Size returns the size of the GPUCullingUniforms struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUCullingUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCullingUniforms struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 304-byte buffer ready for GPU upload.
func (g *GPUCullingUniforms) Marshal() []byte {
	buf, _ := binary.Append(make([]byte, 0, UniformsSize), binary.LittleEndian, g)
	return buf
}

// UnmarshalUniforms decodes a uniform block.
//
// Parameters:
//   - src: at least UniformsSize bytes
//
// Returns:
//   - GPUCullingUniforms: the decoded block
//   - error: an error if src is too short
func UnmarshalUniforms(src []byte) (GPUCullingUniforms, error) {
	var g GPUCullingUniforms
	err := binary.Read(bytes.NewReader(src), binary.LittleEndian, &g)
	return g, err
}

// SetCamera copies the camera state used by the kernel.
//
// Parameters:
//   - frustum: the camera frustum
//   - viewProj: the view-projection matrix
//   - position: the camera position
func (g *GPUCullingUniforms) SetCamera(frustum common.Frustum, viewProj mgl32.Mat4, position mgl32.Vec3) {
	g.Frustum = frustum.Pack()
	g.ViewProj = [16]float32(viewProj)
	g.CameraPosition = [3]float32(position)
}

// SetLODLayout copies the command layout of LOD group data.
//
// Parameters:
//   - data: the LOD group data
func (g *GPUCullingUniforms) SetLODLayout(data lod.LODGroupData) {
	g.LODCount = uint32(data.LODCount())
	g.MaterialCount = uint32(data.MaterialCount())
	g.LODOffsets = [8]uint32{}
	g.LODCounts = [8]uint32{}
	for l := range data.LODCount() {
		g.LODOffsets[l] = uint32(data.CommandOffset(l))
		g.LODCounts[l] = uint32(data.Level(l).MaterialCount())
	}
}
