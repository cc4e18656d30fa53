package render_pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	calls   []string
	failCam int
}

func (h *recordingHandler) ProcessCamera(cam camera.Camera, frame int64) error {
	h.calls = append(h.calls, fmt.Sprintf("process %d@%d", cam.ID(), frame))
	if cam.ID() == h.failCam {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHandler) UpdateOcclusion(cam camera.Camera) error {
	h.calls = append(h.calls, fmt.Sprintf("occlusion %d", cam.ID()))
	return nil
}

func TestNewAdapter_SelectsByName(t *testing.T) {
	a, err := NewAdapter(config.PipelineBuiltin)
	require.NoError(t, err)
	assert.IsType(t, &BuiltinAdapter{}, a)

	a, err = NewAdapter(config.PipelineScriptable)
	require.NoError(t, err)
	assert.Equal(t, config.PipelineScriptable, a.Name())

	_, err = NewAdapter("forward+")
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestBuiltinAdapter_DefersOcclusionToFrameEnd(t *testing.T) {
	h := &recordingHandler{}
	a := NewBuiltinAdapter(WithHandler(h))
	c1, c2 := camera.NewCamera(), camera.NewCamera()

	require.NoError(t, a.BeginCamera(c1, 3))
	require.NoError(t, a.EndCamera(c1))
	require.NoError(t, a.BeginCamera(c2, 3))
	require.NoError(t, a.BeginCamera(c2, 3))
	require.NoError(t, a.EndCamera(c2))
	require.NoError(t, a.EndFrame())

	assert.Equal(t, []string{
		fmt.Sprintf("process %d@3", c1.ID()),
		fmt.Sprintf("process %d@3", c2.ID()),
		fmt.Sprintf("process %d@3", c2.ID()),
		fmt.Sprintf("occlusion %d", c1.ID()),
		fmt.Sprintf("occlusion %d", c2.ID()),
	}, h.calls)

	h.calls = nil
	require.NoError(t, a.EndFrame())
	assert.Empty(t, h.calls, "pending cameras are consumed by EndFrame")
}

func TestScriptableAdapter_OcclusionAtCameraEnd(t *testing.T) {
	h := &recordingHandler{}
	a := NewScriptableAdapter()
	a.RegisterCameraCallbacks(h)
	c := camera.NewCamera()

	require.NoError(t, a.BeginCamera(c, 1))
	require.NoError(t, a.EndCamera(c))
	require.NoError(t, a.EndFrame())
	assert.Equal(t, []string{
		fmt.Sprintf("process %d@1", c.ID()),
		fmt.Sprintf("occlusion %d", c.ID()),
	}, h.calls)
}

func TestAdapters_NoHandlerIsNoop(t *testing.T) {
	h := &recordingHandler{}
	for _, a := range []Adapter{NewBuiltinAdapter(WithHandler(h)), NewScriptableAdapter(WithHandler(h))} {
		a.UnregisterCameraCallbacks()
		c := camera.NewCamera()
		assert.NoError(t, a.BeginCamera(c, 1))
		assert.NoError(t, a.EndCamera(c))
		assert.NoError(t, a.UpdateOcclusionTexture(c))
		assert.NoError(t, a.EndFrame())
	}
	assert.Empty(t, h.calls)
}

func TestAdapters_PropagateHandlerErrors(t *testing.T) {
	c := camera.NewCamera()
	h := &recordingHandler{failCam: c.ID()}
	a := NewScriptableAdapter(WithHandler(h))
	assert.Error(t, a.BeginCamera(c, 1))
}
