// Package render_pipeline adapts the host's camera rendering hooks to the rendering system.
// The built-in adapter follows an immediate-mode loop and defers occlusion updates to the end
// of the frame; the scriptable adapter updates occlusion as soon as each camera finishes.
package render_pipeline

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"go.uber.org/zap"
)

// ErrUnknownPipeline is returned by NewAdapter for a pipeline name it does not know.
var ErrUnknownPipeline = errors.New("render pipeline: unknown pipeline")

// CameraHandler receives the normalized camera callbacks. The rendering system implements it.
type CameraHandler interface {
	// ProcessCamera culls and draws everything a camera sees.
	ProcessCamera(cam camera.Camera, frame int64) error
	// UpdateOcclusion refreshes a camera's Hi-Z texture from its rendered depth.
	UpdateOcclusion(cam camera.Camera) error
}

// Adapter connects a host render loop to a CameraHandler. Every host hook is a no-op while no
// handler is registered.
type Adapter interface {
	// Name returns the pipeline name the adapter was selected by.
	//
	// Returns:
	//   - string: config.PipelineBuiltin or config.PipelineScriptable
	Name() string

	// RegisterCameraCallbacks routes the host hooks to a handler, replacing any previous one.
	//
	// Parameters:
	//   - handler: the handler
	RegisterCameraCallbacks(handler CameraHandler)

	// UnregisterCameraCallbacks detaches the handler and drops pending occlusion updates.
	UnregisterCameraCallbacks()

	// UpdateOcclusionTexture refreshes a camera's Hi-Z texture immediately.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - error: the handler's error
	UpdateOcclusionTexture(cam camera.Camera) error

	// BeginCamera is called by the host before a camera renders.
	//
	// Parameters:
	//   - cam: the camera
	//   - frame: the frame number
	//
	// Returns:
	//   - error: the handler's error
	BeginCamera(cam camera.Camera, frame int64) error

	// EndCamera is called by the host once a camera's depth has been rendered.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - error: an occlusion update error
	EndCamera(cam camera.Camera) error

	// EndFrame is called by the host once every camera of the frame has rendered.
	//
	// Returns:
	//   - error: joined occlusion update errors
	EndFrame() error
}

// NewAdapter returns the adapter for a pipeline name.
//
// Parameters:
//   - name: config.PipelineBuiltin or config.PipelineScriptable
//   - options: builder options
//
// Returns:
//   - Adapter: the adapter
//   - error: ErrUnknownPipeline for any other name
func NewAdapter(name string, options ...AdapterBuilderOption) (Adapter, error) {
	switch name {
	case config.PipelineBuiltin:
		return NewBuiltinAdapter(options...), nil
	case config.PipelineScriptable:
		return NewScriptableAdapter(options...), nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownPipeline)
	}
}

// adapterBase holds the handler and the logger shared by both adapters.
type adapterBase struct {
	handler CameraHandler
	logger  *zap.Logger
}

func newAdapterBase(options []AdapterBuilderOption) adapterBase {
	b := adapterBase{logger: zap.NewNop()}
	for _, opt := range options {
		opt(&b)
	}
	return b
}

func (b *adapterBase) RegisterCameraCallbacks(handler CameraHandler) {
	b.handler = handler
}

func (b *adapterBase) UpdateOcclusionTexture(cam camera.Camera) error {
	if b.handler == nil || cam == nil {
		return nil
	}
	if err := b.handler.UpdateOcclusion(cam); err != nil {
		b.logger.Error("occlusion update failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
		return err
	}
	return nil
}

func (b *adapterBase) beginCamera(cam camera.Camera, frame int64) (bool, error) {
	if b.handler == nil || cam == nil {
		return false, nil
	}
	if err := b.handler.ProcessCamera(cam, frame); err != nil {
		b.logger.Error("camera render failed", zap.Int("camera_id", cam.ID()), zap.Int64("frame", frame), zap.Error(err))
		return true, err
	}
	return true, nil
}
