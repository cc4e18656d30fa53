package light

import (
	_ "embed"
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowMapResolution is the default width and height in texels of the shadow
// depth texture. The rendering system uses this as its initial value but can override
// it via its shadow map size builder option.
const ShadowMapResolution = 2048

// DefaultShadowHalfExtent is the default orthographic half-extent (in world units)
// used for the directional light shadow frustum. Controls how much of the scene
// around the camera center is captured in the shadow map.
const DefaultShadowHalfExtent float32 = 40.0

// DefaultShadowNear is the default near plane for the directional light's
// orthographic shadow projection.
const DefaultShadowNear float32 = 0.1

// DefaultShadowFar is the default far plane for the directional light's
// orthographic shadow projection.
const DefaultShadowFar float32 = 200.0

// DefaultShadowBias is the constant depth bias applied to shadow comparisons
// to reduce shadow acne artifacts.
const DefaultShadowBias float32 = 0.001

// DefaultShadowNormalBiasScale is the multiplier applied to the shadow map
// texel world-size to compute the normal-offset bias. Typical values are 2.0 to 4.0.
const DefaultShadowNormalBiasScale float32 = 3.0

// GPUShadowDataSource is the canonical WGSL definition of the ShadowData struct.
// Matches GPUShadowData layout exactly (112 bytes, std140/std430 aligned).
//
//go:embed assets/shadow_data.wgsl
var GPUShadowDataSource string

// GPUShadowData is the GPU-aligned shadow and light uniform bound next to the camera uniform.
// Matches the WGSL ShadowData struct layout exactly (see GPUShadowDataSource).
//
// Layout:
//
//	mat4x4<f32> light_vp        (64 bytes, offset   0)
//	vec3<f32>   light_direction (12 bytes, offset  64)
//	f32         bias            ( 4 bytes, offset  76)
//	vec3<f32>   light_color     (12 bytes, offset  80)
//	f32         normal_bias     ( 4 bytes, offset  92)
//	vec2<f32>   texel_size      ( 8 bytes, offset  96)
//	vec2<f32>   _pad            ( 8 bytes, offset 104)
type GPUShadowData struct {
	LightVP        [16]float32 // orthographic view-projection from the light's perspective
	LightDirection [3]float32  // normalized light direction
	Bias           float32     // depth comparison bias to reduce shadow acne
	LightColor     [3]float32  // color premultiplied by intensity, zero when the light is disabled
	NormalBias     float32     // world-space normal-offset distance for shadow lookup
	TexelSize      [2]float32  // 1.0 / shadow_map_resolution for PCF offsets
	_              [2]float32
}

// Size returns the size of the GPUShadowData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (s *GPUShadowData) Size() int {
	return int(unsafe.Sizeof(*s))
}

// NewShadowData fills GPUShadowData for a light and a shadow frustum centered on a point.
//
// Parameters:
//   - l: the light, or nil for an unlit shadow block
//   - center: world-space center of the shadow frustum (typically the camera position)
//   - resolution: shadow map resolution in texels
//
// Returns:
//   - GPUShadowData: the filled uniform
func NewShadowData(l Light, center mgl32.Vec3, resolution int) GPUShadowData {
	texel := 1 / float32(max(resolution, 1))
	s := GPUShadowData{TexelSize: [2]float32{texel, texel}, Bias: DefaultShadowBias}
	if l == nil {
		s.ComputeDirectionalLightVP(mgl32.Vec3{0, -1, 0}, center, DefaultShadowHalfExtent, DefaultShadowNear, DefaultShadowFar)
		return s
	}
	s.ComputeDirectionalLightVP(l.Direction(), center, DefaultShadowHalfExtent, DefaultShadowNear, DefaultShadowFar)
	s.ComputeNormalBias(DefaultShadowHalfExtent, DefaultShadowNormalBiasScale, resolution)
	s.LightDirection = l.Direction()
	if l.Enabled() {
		s.LightColor = l.Color().Mul(l.Intensity())
	}
	return s
}

// ComputeDirectionalLightVP builds an orthographic view-projection matrix for a
// directional light's shadow pass and stores it in the receiver's LightVP field.
// The frustum is centered on the provided center position and aligned to look along
// the light's direction.
//
// Parameters:
//   - lightDir: normalized direction the light points (from light toward scene)
//   - center: world-space center of the shadow frustum
//   - halfExtent: half-size of the orthographic frustum in world units
//   - near: near plane distance
//   - far: far plane distance
func (s *GPUShadowData) ComputeDirectionalLightVP(lightDir, center mgl32.Vec3, halfExtent, near, far float32) {
	// The eye sits behind the center, opposite the light direction.
	eye := center.Sub(lightDir.Mul(far * 0.5))

	// Choose a stable up vector that isn't parallel to the light direction.
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(lightDir.Y()) > 0.99 {
		up = mgl32.Vec3{1, 0, 0}
	}

	view := mgl32.LookAtV(eye, center, up)
	proj := common.Orthographic(-halfExtent, halfExtent, -halfExtent, halfExtent, near, far)
	s.LightVP = proj.Mul4(view)
}

// ComputeNormalBias derives the world-space normal-offset bias from the shadow
// map parameters and stores it in the receiver's NormalBias field.
//
// Parameters:
//   - halfExtent: orthographic frustum half-size in world units
//   - scale: multiplier on the per-texel world size (typically 2.0 to 4.0)
//   - resolution: shadow map resolution in texels (width and height)
func (s *GPUShadowData) ComputeNormalBias(halfExtent, scale float32, resolution int) {
	texelWorldSize := 2.0 * halfExtent / float32(max(resolution, 1))
	s.NormalBias = texelWorldSize * scale
}

// Floats returns the uniform as the float words a property block packs into a uniform buffer.
//
// Returns:
//   - []float32: 28 floats, padding included
func (s *GPUShadowData) Floats() []float32 {
	out := make([]float32, 0, 28)
	out = append(out, s.LightVP[:]...)
	out = append(out, s.LightDirection[:]...)
	out = append(out, s.Bias)
	out = append(out, s.LightColor[:]...)
	out = append(out, s.NormalBias)
	out = append(out, s.TexelSize[:]...)
	return append(out, 0, 0)
}

// Marshal serializes the GPUShadowData struct into a byte buffer suitable for
// GPU uniform upload.
//
// Returns:
//   - []byte: 112-byte buffer ready for GPU upload
func (s *GPUShadowData) Marshal() []byte {
	buf, _ := binary.Append(nil, binary.LittleEndian, s)
	return buf
}
