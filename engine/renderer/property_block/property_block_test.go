package property_block

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/stretchr/testify/assert"
)

func TestPropertyBlock_SetAndRemove(t *testing.T) {
	buf := resource.NewBuffer("transforms", 64, resource.BufferUsageStorage, struct{}{})
	p := NewPropertyBlock("test", WithBuffer(0, buf), WithFloats(3, 1, 2))

	assert.Same(t, buf, p.Buffer(0))
	assert.Equal(t, []float32{1, 2}, p.Floats(3))

	v := p.Version()
	p.SetBuffer(0, nil)
	p.SetFloats(3)
	assert.Nil(t, p.Buffer(0))
	assert.Nil(t, p.Floats(3))
	assert.Greater(t, p.Version(), v)
}

func TestPropertyBlock_CloneIsDeep(t *testing.T) {
	p := NewPropertyBlock("src")
	p.SetFloats(1, 5, 6, 7)
	p.SetFloats(0, 9)

	c := p.Clone()
	p.SetFloats(1, 0)

	assert.Equal(t, []float32{5, 6, 7}, c.Floats(1))
	assert.Equal(t, []int{0, 1}, c.FloatBindings())
}

func TestPropertyBlock_CopyFromNilClears(t *testing.T) {
	p := NewPropertyBlock("dst", WithFloats(2, 1))
	p.CopyFrom(nil)
	assert.Empty(t, p.FloatBindings())
}
