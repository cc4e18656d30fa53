package material

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
)

func TestNewMaterial_WritesParamsToBlock(t *testing.T) {
	m := NewMaterial(
		WithName("grass"),
		WithPipelineKey("instanced"),
		WithKeywords("ALPHA_TEST"),
		WithBaseColor([4]float32{0.2, 0.8, 0.2, 1}),
		WithAlphaCutoff(0.5),
	)

	assert.Equal(t, "instanced", m.PipelineKey())
	assert.Equal(t, shader.NewKeywordSet("ALPHA_TEST"), m.Keywords())
	assert.Equal(t, []float32{0.2, 0.8, 0.2, 1, 0.5, 0, 0, 0}, m.Properties().Floats(ParamsBinding))

	m.SetBaseColor([4]float32{1, 0, 0, 1})
	assert.Equal(t, float32(1), m.Properties().Floats(ParamsBinding)[0])

	m.SetKeyword("ALPHA_TEST", false)
	assert.False(t, m.Keywords().Has("ALPHA_TEST"))
}

func TestGPUMaterialParams_Layout(t *testing.T) {
	p := GPUMaterialParams{BaseColor: [4]float32{1, 1, 1, 1}, AlphaCutoff: 0.25}
	assert.Equal(t, 32, p.Size())
	assert.Len(t, p.Marshal(), 32)
}
