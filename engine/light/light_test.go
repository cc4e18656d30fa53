package light

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestLight_DirectionNormalized(t *testing.T) {
	l := NewLight(WithDirection(0, -2, 0), WithIntensity(2))
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, l.Direction())

	l.SetDirection(0, 0, 0)
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, l.Direction(), "a zero direction is ignored")

	l.SetEnabled(false)
	assert.False(t, l.CastsShadows(), "disabled lights never cast shadows")
}

func TestShadowData_CenterProjectsToClipCenter(t *testing.T) {
	center := mgl32.Vec3{5, 0, -3}
	l := NewLight(WithDirection(0.3, -1, 0.2), WithColor(1, 0.5, 0.25), WithIntensity(2))
	s := NewShadowData(l, center, ShadowMapResolution)

	clip := mgl32.Mat4(s.LightVP).Mul4x1(center.Vec4(1))
	assert.InDelta(t, 0, clip.X()/clip.W(), 1e-4)
	assert.InDelta(t, 0, clip.Y()/clip.W(), 1e-4)
	z := clip.Z() / clip.W()
	assert.True(t, z > 0 && z < 1, "depth %f within WebGPU range", z)

	assert.Equal(t, [3]float32{2, 1, 0.5}, s.LightColor)
	assert.InDelta(t, 1.0/ShadowMapResolution, s.TexelSize[0], 1e-9)
	assert.Len(t, s.Floats(), s.Size()/4)
	assert.Len(t, s.Marshal(), s.Size())
}

func TestShadowData_VerticalLightUsesStableUp(t *testing.T) {
	var s GPUShadowData
	s.ComputeDirectionalLightVP(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{}, 10, 0.1, 100)
	for _, v := range s.LightVP {
		assert.False(t, v != v, "matrix must not contain NaN")
	}
}
