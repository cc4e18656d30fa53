package common

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: n·p + d = 0
// where n is the normal and d is the signed distance from origin.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// SignedDistance returns the signed distance from the plane to the point p.
// Positive values are on the side the normal points to.
func (p Plane) SignedDistance(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts frustum planes from a view-projection matrix.
// The matrix should be the combined Projection * View matrix with a WebGPU clip space
// depth range of [0, 1] (see Perspective). Uses the Gribb/Hartmann method for plane extraction.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the combined view-projection matrix (mgl32, column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)

	var f Frustum
	f.Planes[FrustumLeft] = planeFromRow(r3.Add(r0))
	f.Planes[FrustumRight] = planeFromRow(r3.Sub(r0))
	f.Planes[FrustumBottom] = planeFromRow(r3.Add(r1))
	f.Planes[FrustumTop] = planeFromRow(r3.Sub(r1))
	f.Planes[FrustumNear] = planeFromRow(r2)
	f.Planes[FrustumFar] = planeFromRow(r3.Sub(r2))
	return f
}

// planeFromRow builds a normalized plane from a combined matrix row (a, b, c, d).
func planeFromRow(row mgl32.Vec4) Plane {
	n := row.Vec3()
	length := n.Len()
	if length == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / length), Distance: row.W() / length}
}

// IntersectsSphere reports whether a sphere is at least partially inside the frustum.
// The offset expands every plane outward, which keeps instances alive slightly past
// the frustum edge (useful for shadows and streaming pop-in).
//
// Parameters:
//   - center: the world-space sphere center
//   - radius: the sphere radius
//   - offset: extra distance added to the radius
//
// Returns:
//   - bool: true when the sphere touches or is inside all six planes
func (f Frustum) IntersectsSphere(center mgl32.Vec3, radius, offset float32) bool {
	for _, p := range f.Planes {
		if p.SignedDistance(center) < -(radius + offset) {
			return false
		}
	}
	return true
}

// IntersectsBounds reports whether an axis-aligned box is at least partially inside the frustum.
// For each plane only the box corner furthest along the plane normal (the positive vertex)
// is tested, so the check is conservative and never rejects a visible box.
//
// Parameters:
//   - b: the world-space bounds to test
//
// Returns:
//   - bool: true if the bounds intersect or lie inside the frustum
func (f Frustum) IntersectsBounds(b Bounds) bool {
	minP, maxP := b.Min(), b.Max()
	for _, p := range f.Planes {
		var positive mgl32.Vec3
		for axis := range 3 {
			if p.Normal[axis] >= 0 {
				positive[axis] = maxP[axis]
			} else {
				positive[axis] = minP[axis]
			}
		}
		if p.SignedDistance(positive) < 0 {
			return false
		}
	}
	return true
}

// Pack flattens the frustum into 24 floats (xyz normal + distance per plane), the layout
// consumed by the visibility kernels.
//
// Returns:
//   - [24]float32: the packed planes in Left, Right, Bottom, Top, Near, Far order
func (f Frustum) Pack() [24]float32 {
	var out [24]float32
	for i, p := range f.Planes {
		out[i*4+0] = p.Normal[0]
		out[i*4+1] = p.Normal[1]
		out[i*4+2] = p.Normal[2]
		out[i*4+3] = p.Distance
	}
	return out
}

// UnpackFrustum is the inverse of Frustum.Pack.
func UnpackFrustum(packed []float32) Frustum {
	var f Frustum
	for i := range 6 {
		f.Planes[i] = Plane{
			Normal:   mgl32.Vec3{packed[i*4], packed[i*4+1], packed[i*4+2]},
			Distance: packed[i*4+3],
		}
	}
	return f
}

// MaxAxisScale returns the largest basis-vector length of a transform, used to scale
// bounding radii for non-uniformly scaled instances.
func MaxAxisScale(m mgl32.Mat4) float32 {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	return math32.Max(sx, math32.Max(sy, sz))
}
