package renderer

import (
	"encoding/binary"
	"unsafe"
)

// IndirectArgsStride is the byte stride between consecutive DrawIndexedIndirect records in an args buffer.
const IndirectArgsStride = 20

// GPUIndirectArgs is the GPU-aligned DrawIndexedIndirect arguments record.
// The visibility pass increments InstanceCount; FirstInstance carries the visibility buffer shift
// so the vertex shader can index the visible-instance list without a per-draw uniform.
// Size: 20 bytes (5 × u32).
type GPUIndirectArgs struct {
	IndexCount    uint32 // offset 0: number of indices per instance
	InstanceCount uint32 // offset 4: number of visible instances (written by the visibility pass)
	FirstIndex    uint32 // offset 8: offset into the index buffer
	BaseVertex    int32  // offset 12: added to each index value (signed)
	FirstInstance uint32 // offset 16: visibility buffer shift for this draw
}

// Size returns the size of the GPUIndirectArgs struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUIndirectArgs) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUIndirectArgs struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 20-byte buffer ready for GPU upload.
func (g *GPUIndirectArgs) Marshal() []byte {
	buf := make([]byte, IndirectArgsStride)
	g.Put(buf)
	return buf
}

// Put writes the record into dst, which must be at least IndirectArgsStride bytes long.
//
// Parameters:
//   - dst: the destination slice
func (g *GPUIndirectArgs) Put(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], g.IndexCount)
	binary.LittleEndian.PutUint32(dst[4:8], g.InstanceCount)
	binary.LittleEndian.PutUint32(dst[8:12], g.FirstIndex)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(g.BaseVertex))
	binary.LittleEndian.PutUint32(dst[16:20], g.FirstInstance)
}

// UnmarshalIndirectArgs decodes one record from src.
//
// Parameters:
//   - src: at least IndirectArgsStride bytes
//
// Returns:
//   - GPUIndirectArgs: the decoded record
func UnmarshalIndirectArgs(src []byte) GPUIndirectArgs {
	return GPUIndirectArgs{
		IndexCount:    binary.LittleEndian.Uint32(src[0:4]),
		InstanceCount: binary.LittleEndian.Uint32(src[4:8]),
		FirstIndex:    binary.LittleEndian.Uint32(src[8:12]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(src[12:16])),
		FirstInstance: binary.LittleEndian.Uint32(src[16:20]),
	}
}
