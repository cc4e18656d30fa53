package common

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Bounds is an axis-aligned bounding box stored as center and half-extents.
type Bounds struct {
	Center  mgl32.Vec3
	Extents mgl32.Vec3
}

// NewBoundsMinMax builds Bounds from its minimum and maximum corners.
//
// Parameters:
//   - minP: the minimum corner
//   - maxP: the maximum corner
//
// Returns:
//   - Bounds: the box spanning minP to maxP
func NewBoundsMinMax(minP, maxP mgl32.Vec3) Bounds {
	return Bounds{
		Center:  minP.Add(maxP).Mul(0.5),
		Extents: maxP.Sub(minP).Mul(0.5),
	}
}

// Min returns the minimum corner.
func (b Bounds) Min() mgl32.Vec3 {
	return b.Center.Sub(b.Extents)
}

// Max returns the maximum corner.
func (b Bounds) Max() mgl32.Vec3 {
	return b.Center.Add(b.Extents)
}

// Size returns the full edge lengths of the box.
func (b Bounds) Size() mgl32.Vec3 {
	return b.Extents.Mul(2)
}

// Translate returns the box moved by offset.
func (b Bounds) Translate(offset mgl32.Vec3) Bounds {
	return Bounds{Center: b.Center.Add(offset), Extents: b.Extents}
}

// Contains reports whether p lies inside or on the surface of the box.
func (b Bounds) Contains(p mgl32.Vec3) bool {
	minP, maxP := b.Min(), b.Max()
	for axis := range 3 {
		if p[axis] < minP[axis] || p[axis] > maxP[axis] {
			return false
		}
	}
	return true
}

// SqrDistance returns the squared distance from p to the closest point on the box.
// Points inside the box return 0.
func (b Bounds) SqrDistance(p mgl32.Vec3) float32 {
	minP, maxP := b.Min(), b.Max()
	var sqr float32
	for axis := range 3 {
		v := p[axis]
		if v < minP[axis] {
			d := minP[axis] - v
			sqr += d * d
		} else if v > maxP[axis] {
			d := v - maxP[axis]
			sqr += d * d
		}
	}
	return sqr
}

// Encapsulate returns the smallest box containing both b and other.
func (b Bounds) Encapsulate(other Bounds) Bounds {
	bMin, bMax := b.Min(), b.Max()
	oMin, oMax := other.Min(), other.Max()
	var minP, maxP mgl32.Vec3
	for axis := range 3 {
		minP[axis] = math32.Min(bMin[axis], oMin[axis])
		maxP[axis] = math32.Max(bMax[axis], oMax[axis])
	}
	return NewBoundsMinMax(minP, maxP)
}

// Transform returns the world-space AABB enclosing the box after applying m.
// Uses the absolute-matrix extents method (Arvo).
func (b Bounds) Transform(m mgl32.Mat4) Bounds {
	center := m.Mul4x1(b.Center.Vec4(1)).Vec3()
	var extents mgl32.Vec3
	for row := range 3 {
		for col := range 3 {
			extents[row] += math32.Abs(m.At(row, col)) * b.Extents[col]
		}
	}
	return Bounds{Center: center, Extents: extents}
}

// Radius returns the radius of the sphere enclosing the box.
func (b Bounds) Radius() float32 {
	return b.Extents.Len()
}
