package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfile_ParametersLayout(t *testing.T) {
	p := Default("trees")
	p.DistanceCulling = true
	p.MinDistance = 2
	p.MaxDistance = 300
	p.MaximumLODLevel = 1
	p.LODBias = 1.5

	params := p.Parameters()
	assert.Len(t, params, ParameterCount)
	assert.Equal(t, float32(1), params[ParamFrustumCulling])
	assert.Equal(t, float32(1), params[ParamDistanceCulling])
	assert.Equal(t, float32(300), params[ParamMaxDistance])
	assert.Equal(t, float32(1), params[ParamShadowCasting])
	assert.Equal(t, float32(150), params[ParamShadowDistance])
	assert.Equal(t, float32(1.5), params[ParamLODBias])
	assert.Equal(t, float32(1), params[ParamMaximumLODLevel])
	assert.Equal(t, float32(0), params[ParamLODCrossFade])
	assert.Equal(t, "profile:trees", p.OwnerKey())
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
		err    error
	}{
		{"default", func(p *Profile) {}, nil},
		{"inverted distances", func(p *Profile) { p.DistanceCulling = true; p.MinDistance = 10; p.MaxDistance = 5 }, ErrInvalidDistance},
		{"negative shadow distance", func(p *Profile) { p.ShadowDistance = -1 }, ErrInvalidDistance},
		{"lod level too high", func(p *Profile) { p.MaximumLODLevel = 8 }, ErrInvalidLODLevel},
		{"zero bias", func(p *Profile) { p.LODBias = 0 }, ErrInvalidLODBias},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default("p")
			tt.mutate(p)
			err := p.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestProfile_CloneIsIndependent(t *testing.T) {
	p := Default("a")
	c := p.Clone()
	c.ShadowCasting = false
	assert.True(t, p.ShadowCasting)
}
