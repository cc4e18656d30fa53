package render_pipeline

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
)

// ScriptableAdapter drives a begin/end camera rendering loop. Each camera's occlusion texture
// is refreshed as soon as the camera ends.
type ScriptableAdapter struct {
	adapterBase
}

var _ Adapter = &ScriptableAdapter{}

// NewScriptableAdapter creates a begin/end camera adapter.
func NewScriptableAdapter(options ...AdapterBuilderOption) *ScriptableAdapter {
	return &ScriptableAdapter{adapterBase: newAdapterBase(options)}
}

func (a *ScriptableAdapter) Name() string {
	return config.PipelineScriptable
}

func (a *ScriptableAdapter) UnregisterCameraCallbacks() {
	a.handler = nil
}

func (a *ScriptableAdapter) BeginCamera(cam camera.Camera, frame int64) error {
	_, err := a.beginCamera(cam, frame)
	return err
}

func (a *ScriptableAdapter) EndCamera(cam camera.Camera) error {
	return a.UpdateOcclusionTexture(cam)
}

// EndFrame does nothing; occlusion was updated per camera.
func (a *ScriptableAdapter) EndFrame() error {
	return nil
}
