package profile

import (
	"errors"
	"fmt"
)

// ParameterCount is the number of floats a Profile occupies in the parameter buffer.
const ParameterCount = 16

// Offsets of each profile field within its parameter buffer slice. The culling kernels read
// the same offsets.
const (
	ParamFrustumCulling = iota
	ParamFrustumOffset
	ParamMinCullingDistance
	ParamDistanceCulling
	ParamMinDistance
	ParamMaxDistance
	ParamOcclusionCulling
	ParamOcclusionOffset
	ParamShadowCasting
	ParamShadowDistance
	ParamLODBias
	ParamMaximumLODLevel
	ParamLODCrossFade
	ParamCrossFadeWidth
	ParamBoundsOffset
	ParamReserved
)

var (
	// ErrInvalidDistance is returned when a distance threshold is negative or inverted.
	ErrInvalidDistance = errors.New("profile: invalid distance range")
	// ErrInvalidLODLevel is returned when MaximumLODLevel is outside [0, 7].
	ErrInvalidLODLevel = errors.New("profile: maximum LOD level out of range")
	// ErrInvalidLODBias is returned when LODBias is not positive.
	ErrInvalidLODBias = errors.New("profile: LOD bias must be positive")
)

// Profile is the culling, LOD and shadow configuration shared by every render source
// registered against it.
type Profile struct {
	// Name identifies the profile. It is also the profile's parameter buffer owner key.
	Name string

	// FrustumCulling enables the frustum test.
	FrustumCulling bool
	// FrustumOffset grows the culling sphere so instances just outside the frustum stay visible.
	FrustumOffset float32
	// MinCullingDistance keeps instances closer than this visible regardless of the frustum test.
	MinCullingDistance float32

	// DistanceCulling enables the [MinDistance, MaxDistance] camera distance window.
	DistanceCulling bool
	MinDistance     float32
	MaxDistance     float32

	// OcclusionCulling enables the Hi-Z test when the system has occlusion culling on.
	OcclusionCulling bool
	// OcclusionOffset biases the depth comparison toward visibility.
	OcclusionOffset float32

	// ShadowCasting enables the shadow pass for this profile. Toggling it at runtime doubles or
	// halves the visibility layout and forces a resize of every affected group.
	ShadowCasting bool
	// ShadowDistance is the maximum camera distance at which instances are added to the shadow lists.
	ShadowDistance float32

	// LODBias multiplies camera distance before LOD selection. Values above 1 pick coarser LODs sooner.
	LODBias float32
	// MaximumLODLevel is the finest LOD this profile may draw.
	MaximumLODLevel int

	// LODCrossFade injects the LOD_FADE_CROSSFADE keyword on registration.
	LODCrossFade bool
	// CrossFadeWidth is the fraction of each LOD transition band used for the fade.
	CrossFadeWidth float32

	// BoundsOffset is added to the bounding sphere radius of every instance.
	BoundsOffset float32
}

// Default returns a profile with frustum culling, shadows and no distance limit.
//
// Parameters:
//   - name: the profile name
//
// Returns:
//   - *Profile: the default profile
func Default(name string) *Profile {
	return &Profile{
		Name:               name,
		FrustumCulling:     true,
		FrustumOffset:      0.2,
		MinCullingDistance: 0,
		MaxDistance:        10000,
		OcclusionOffset:    0,
		ShadowCasting:      true,
		ShadowDistance:     150,
		LODBias:            1,
		CrossFadeWidth:     0.1,
	}
}

// Validate checks value ranges.
//
// Returns:
//   - error: a wrapped sentinel describing the first invalid field, or nil
func (p *Profile) Validate() error {
	if p.MinDistance < 0 || (p.DistanceCulling && p.MaxDistance < p.MinDistance) {
		return fmt.Errorf("%s: min %.2f max %.2f: %w", p.Name, p.MinDistance, p.MaxDistance, ErrInvalidDistance)
	}
	if p.ShadowDistance < 0 || p.MinCullingDistance < 0 {
		return fmt.Errorf("%s: %w", p.Name, ErrInvalidDistance)
	}
	if p.MaximumLODLevel < 0 || p.MaximumLODLevel > 7 {
		return fmt.Errorf("%s: %d: %w", p.Name, p.MaximumLODLevel, ErrInvalidLODLevel)
	}
	if p.LODBias <= 0 {
		return fmt.Errorf("%s: %.2f: %w", p.Name, p.LODBias, ErrInvalidLODBias)
	}
	return nil
}

// OwnerKey returns the parameter buffer owner key of the profile.
func (p *Profile) OwnerKey() string {
	return "profile:" + p.Name
}

// Parameters packs the profile into its parameter buffer slice.
//
// Returns:
//   - []float32: ParameterCount floats laid out by the Param* offsets
func (p *Profile) Parameters() []float32 {
	out := make([]float32, ParameterCount)
	out[ParamFrustumCulling] = boolToFloat(p.FrustumCulling)
	out[ParamFrustumOffset] = p.FrustumOffset
	out[ParamMinCullingDistance] = p.MinCullingDistance
	out[ParamDistanceCulling] = boolToFloat(p.DistanceCulling)
	out[ParamMinDistance] = p.MinDistance
	out[ParamMaxDistance] = p.MaxDistance
	out[ParamOcclusionCulling] = boolToFloat(p.OcclusionCulling)
	out[ParamOcclusionOffset] = p.OcclusionOffset
	out[ParamShadowCasting] = boolToFloat(p.ShadowCasting)
	out[ParamShadowDistance] = p.ShadowDistance
	out[ParamLODBias] = p.LODBias
	out[ParamMaximumLODLevel] = float32(p.MaximumLODLevel)
	out[ParamLODCrossFade] = boolToFloat(p.LODCrossFade)
	out[ParamCrossFadeWidth] = p.CrossFadeWidth
	out[ParamBoundsOffset] = p.BoundsOffset
	return out
}

// Clone returns a copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

func boolToFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
