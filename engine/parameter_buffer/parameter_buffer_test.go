package parameter_buffer

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterBuffer_StableIndices(t *testing.T) {
	p := NewParameterBuffer()

	a, err := p.Set("profile:a", []float32{1, 2, 3})
	require.NoError(t, err)
	b, err := p.Set("lod:tree", []float32{10, 20})
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 3, b)

	again, err := p.Set("profile:a", []float32{4, 5})
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Equal(t, []float32{4, 5, 3, 10, 20}, p.Values())

	_, err = p.Set("lod:tree", []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrSliceGrew)
	assert.Equal(t, 5, p.Len())

	_, err = p.Set("", nil)
	assert.ErrorIs(t, err, ErrEmptyOwner)

	idx, ok := p.Index("lod:tree")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestParameterBuffer_UploadOnlyWhenDirty(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	p := NewParameterBuffer()
	_, err := p.Set("a", []float32{1.5, 2.5})
	require.NoError(t, err)
	require.True(t, p.Dirty())

	require.NoError(t, p.Upload(r))
	assert.False(t, p.Dirty())
	data, err := r.ReadBuffer(p.Buffer())
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5}, common.BytesToFloat32s(data))

	first := p.Buffer()
	_, err = p.Set("b", []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, p.Upload(r))
	assert.False(t, first.Valid(), "growing replaces the GPU buffer")
	assert.GreaterOrEqual(t, p.Buffer().Size(), uint64(24))
}

func TestParameterBuffer_ResetDropsAllocations(t *testing.T) {
	p := NewParameterBuffer()
	_, _ = p.Set("a", []float32{1})
	p.Reset()
	_, ok := p.Index("a")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
	idx, err := p.Set("b", []float32{7})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
