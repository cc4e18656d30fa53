package render_pipeline

import (
	"errors"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
)

// BuiltinAdapter drives an immediate-mode render loop. Cameras rendered during a frame are
// remembered and their occlusion textures are refreshed together in EndFrame.
type BuiltinAdapter struct {
	adapterBase
	pending []camera.Camera
}

var _ Adapter = &BuiltinAdapter{}

// NewBuiltinAdapter creates an immediate-mode adapter.
func NewBuiltinAdapter(options ...AdapterBuilderOption) *BuiltinAdapter {
	return &BuiltinAdapter{adapterBase: newAdapterBase(options)}
}

func (a *BuiltinAdapter) Name() string {
	return config.PipelineBuiltin
}

func (a *BuiltinAdapter) UnregisterCameraCallbacks() {
	a.handler = nil
	a.pending = nil
}

func (a *BuiltinAdapter) BeginCamera(cam camera.Camera, frame int64) error {
	handled, err := a.beginCamera(cam, frame)
	if handled && !slices.ContainsFunc(a.pending, func(c camera.Camera) bool { return c.ID() == cam.ID() }) {
		a.pending = append(a.pending, cam)
	}
	return err
}

// EndCamera does nothing; occlusion waits for EndFrame.
func (a *BuiltinAdapter) EndCamera(camera.Camera) error {
	return nil
}

func (a *BuiltinAdapter) EndFrame() error {
	pending := a.pending
	a.pending = nil
	var errs []error
	for _, cam := range pending {
		if err := a.UpdateOcclusionTexture(cam); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
