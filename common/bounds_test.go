package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds_ContainsAndSqrDistance(t *testing.T) {
	b := NewBoundsMinMax(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{10, 2, 10})

	assert.True(t, b.Contains(mgl32.Vec3{5, 1, 5}))
	assert.True(t, b.Contains(mgl32.Vec3{10, 2, 10}), "surface points are inside")
	assert.False(t, b.Contains(mgl32.Vec3{11, 1, 5}))

	assert.Equal(t, float32(0), b.SqrDistance(mgl32.Vec3{5, 1, 5}))
	assert.InDelta(t, 9, b.SqrDistance(mgl32.Vec3{13, 1, 5}), 1e-5)
	assert.InDelta(t, 9+16, b.SqrDistance(mgl32.Vec3{13, 6, 5}), 1e-5)
}

func TestBounds_Translate(t *testing.T) {
	b := NewBoundsMinMax(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2}).Translate(mgl32.Vec3{100, 0, 0})

	assert.True(t, b.Min().ApproxEqual(mgl32.Vec3{100, 0, 0}))
	assert.True(t, b.Max().ApproxEqual(mgl32.Vec3{102, 2, 2}))
}

func TestBounds_TransformAndEncapsulate(t *testing.T) {
	unit := Bounds{Extents: mgl32.Vec3{1, 1, 1}}

	moved := unit.Transform(BuildModelMatrix(mgl32.Vec3{5, 0, 0}, 0, 2))
	assert.True(t, moved.Center.ApproxEqual(mgl32.Vec3{5, 0, 0}))
	assert.True(t, moved.Extents.ApproxEqual(mgl32.Vec3{2, 2, 2}))

	merged := unit.Encapsulate(moved)
	assert.True(t, merged.Min().ApproxEqual(mgl32.Vec3{-1, -2, -2}))
	assert.True(t, merged.Max().ApproxEqual(mgl32.Vec3{7, 2, 2}))
}

func TestMatrixEncoding(t *testing.T) {
	m := BuildModelMatrix(mgl32.Vec3{1, 2, 3}, 0.5, 1.5)

	full := make([]byte, Matrix4x4Stride)
	PutMatrix4x4(full, m)
	assert.Equal(t, m, ReadMatrix(full, Matrix4x4Stride))

	packed := make([]byte, Matrix3x4Stride)
	PutMatrix3x4(packed, m)
	decoded := ReadMatrix(packed, Matrix3x4Stride)
	require.True(t, decoded.ApproxEqual(m))
	assert.True(t, Translation(decoded).ApproxEqual(mgl32.Vec3{1, 2, 3}))
}
