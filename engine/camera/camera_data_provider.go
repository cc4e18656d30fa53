package camera

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"go.uber.org/zap"
)

// cameraDataProvider is the implementation of the CameraDataProvider interface.
type cameraDataProvider struct {
	renderer     renderer.Renderer
	logger       *zap.Logger
	autoRegister bool
	data         map[int]CameraData
	order        []int
	transient    map[int]CameraData
}

// CameraDataProvider owns the CameraData of every known camera. Game, scene view and reflection
// cameras are registered on first sight when auto registration is on; preview cameras are
// served transient data that never outlives the frame.
type CameraDataProvider interface {
	// Register creates persistent data for a camera. Registering twice returns the existing data.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - CameraData: the camera data
	Register(cam Camera) CameraData

	// Resolve returns the data a camera callback should use: the persistent data, new persistent
	// data when auto registration allows it, or transient preview data.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - CameraData: the camera data
	//   - bool: false when the camera is not registered and cannot be
	Resolve(cam Camera) (CameraData, bool)

	// Get returns the persistent data of a camera.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - CameraData: the camera data
	//   - bool: false if the camera is not registered
	Get(cam Camera) (CameraData, bool)

	// Unregister disposes a camera's persistent data.
	//
	// Parameters:
	//   - cam: the camera
	Unregister(cam Camera)

	// All returns the persistent data in registration order.
	//
	// Returns:
	//   - []CameraData: the camera data
	All() []CameraData

	// Transient returns the preview data created this frame.
	//
	// Returns:
	//   - []CameraData: the transient data
	Transient() []CameraData

	// SetAutoRegister toggles automatic registration.
	//
	// Parameters:
	//   - enabled: true to register cameras on first sight
	SetAutoRegister(enabled bool)

	// EndFrame drops transient data and the data of destroyed cameras.
	EndFrame()

	// Dispose releases every camera's data.
	Dispose()
}

var _ CameraDataProvider = &cameraDataProvider{}

// NewCameraDataProvider creates an empty provider.
//
// Parameters:
//   - r: the renderer owning camera buffers
//   - options: variadic list of CameraDataProviderBuilderOption functions
//
// Returns:
//   - CameraDataProvider: the provider
func NewCameraDataProvider(r renderer.Renderer, options ...CameraDataProviderBuilderOption) CameraDataProvider {
	if r == nil {
		panic("camera data provider requires a renderer")
	}
	p := &cameraDataProvider{
		renderer:     r,
		logger:       zap.NewNop(),
		autoRegister: true,
		data:         make(map[int]CameraData),
		transient:    make(map[int]CameraData),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *cameraDataProvider) Register(cam Camera) CameraData {
	if d, ok := p.data[cam.ID()]; ok {
		return d
	}
	d := NewCameraData(cam, false)
	p.data[cam.ID()] = d
	p.order = append(p.order, cam.ID())
	p.logger.Debug("camera registered", zap.Int("camera_id", cam.ID()), zap.Stringer("camera_type", cam.Type()))
	return d
}

func (p *cameraDataProvider) Resolve(cam Camera) (CameraData, bool) {
	if cam == nil || cam.Destroyed() {
		return nil, false
	}
	if d, ok := p.data[cam.ID()]; ok {
		return d, true
	}
	if cam.Type() == CameraTypePreview {
		if d, ok := p.transient[cam.ID()]; ok {
			return d, true
		}
		d := NewCameraData(cam, true)
		p.transient[cam.ID()] = d
		return d, true
	}
	if !p.autoRegister {
		return nil, false
	}
	return p.Register(cam), true
}

func (p *cameraDataProvider) Get(cam Camera) (CameraData, bool) {
	d, ok := p.data[cam.ID()]
	return d, ok
}

func (p *cameraDataProvider) Unregister(cam Camera) {
	p.unregister(cam.ID())
}

func (p *cameraDataProvider) unregister(id int) {
	d, ok := p.data[id]
	if !ok {
		return
	}
	d.Dispose(p.renderer)
	delete(p.data, id)
	p.order = slices.DeleteFunc(p.order, func(o int) bool { return o == id })
	p.logger.Debug("camera unregistered", zap.Int("camera_id", id))
}

func (p *cameraDataProvider) All() []CameraData {
	out := make([]CameraData, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.data[id])
	}
	return out
}

func (p *cameraDataProvider) Transient() []CameraData {
	out := make([]CameraData, 0, len(p.transient))
	for _, d := range p.transient {
		out = append(out, d)
	}
	return out
}

func (p *cameraDataProvider) SetAutoRegister(enabled bool) {
	p.autoRegister = enabled
}

func (p *cameraDataProvider) EndFrame() {
	for id, d := range p.transient {
		d.Dispose(p.renderer)
		delete(p.transient, id)
	}
	for _, id := range slices.Clone(p.order) {
		if p.data[id].Camera().Destroyed() {
			p.unregister(id)
		}
	}
}

func (p *cameraDataProvider) Dispose() {
	for _, id := range slices.Clone(p.order) {
		p.unregister(id)
	}
	for id, d := range p.transient {
		d.Dispose(p.renderer)
		delete(p.transient, id)
	}
}
