package common

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Matrix4x4Stride is the byte size of one column-major mat4x4<f32>.
const Matrix4x4Stride = 64

// Matrix3x4Stride is the byte size of one packed transform (three rows of vec4<f32>).
const Matrix3x4Stride = 48

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// Float32sToBytes serializes floats into a new little-endian byte slice.
func Float32sToBytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// BytesToFloat32s decodes a little-endian byte slice into floats. Trailing bytes
// that do not fill a whole float are ignored.
func BytesToFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// Uint32sToBytes serializes uint32 values into a new little-endian byte slice.
func Uint32sToBytes(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// BytesToUint32s decodes a little-endian byte slice into uint32 values.
func BytesToUint32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

// PutMatrix4x4 writes m as 16 column-major floats at the start of dst.
// dst must hold at least Matrix4x4Stride bytes.
func PutMatrix4x4(dst []byte, m mgl32.Mat4) {
	for i := range 16 {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(m[i]))
	}
}

// PutMatrix3x4 writes the upper three rows of m (the affine part) as three vec4 rows.
// dst must hold at least Matrix3x4Stride bytes.
func PutMatrix3x4(dst []byte, m mgl32.Mat4) {
	for row := range 3 {
		for col := range 4 {
			binary.LittleEndian.PutUint32(dst[(row*4+col)*4:], math.Float32bits(m.At(row, col)))
		}
	}
}

// ReadMatrix decodes one transform from src using the given stride
// (Matrix4x4Stride or Matrix3x4Stride).
//
// Parameters:
//   - src: the encoded transform bytes
//   - stride: the encoding stride in bytes
//
// Returns:
//   - mgl32.Mat4: the decoded matrix (packed transforms get an implicit 0,0,0,1 bottom row)
func ReadMatrix(src []byte, stride int) mgl32.Mat4 {
	f := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	if stride == Matrix3x4Stride {
		m := mgl32.Ident4()
		for row := range 3 {
			for col := range 4 {
				m.Set(row, col, f(row*4+col))
			}
		}
		return m
	}
	var m mgl32.Mat4
	for i := range 16 {
		m[i] = f(i)
	}
	return m
}

// Perspective creates a perspective projection matrix for WebGPU clip space,
// where depth maps to [0, 1].
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1.0 / math32.Tan(fovY/2.0)
	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	return out
}

// Orthographic builds an orthographic projection matrix compatible with WebGPU's
// clip-space convention: X/Y in [-1, 1], Z in [0, 1].
//
// Parameters:
//   - left, right, bottom, top: the view volume extents
//   - near, far: the clip plane distances
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func Orthographic(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	rl := right - left
	tb := top - bottom
	fn := far - near

	out := mgl32.Ident4()
	out[0] = 2.0 / rl
	out[5] = 2.0 / tb
	out[10] = -1.0 / fn // WebGPU Z: [0, 1]
	out[12] = -(right + left) / rl
	out[13] = -(top + bottom) / tb
	out[14] = -near / fn
	return out
}

// BuildModelMatrix constructs a model matrix from a position, a yaw rotation and a uniform scale.
// Vegetation and most scattered instances only need these three degrees of freedom.
//
// Parameters:
//   - pos: translation in world space
//   - yaw: rotation around the Y axis in radians
//   - scale: uniform scale factor
//
// Returns:
//   - mgl32.Mat4: the composed T * Ry * S matrix
func BuildModelMatrix(pos mgl32.Vec3, yaw, scale float32) mgl32.Mat4 {
	return mgl32.Translate3D(pos[0], pos[1], pos[2]).
		Mul4(mgl32.HomogRotate3DY(yaw)).
		Mul4(mgl32.Scale3D(scale, scale, scale))
}

// Translation extracts the translation column of an affine transform.
func Translation(m mgl32.Mat4) mgl32.Vec3 {
	return m.Col(3).Vec3()
}
