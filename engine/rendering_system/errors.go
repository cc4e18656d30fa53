package rendering_system

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
)

var (
	// ErrUnknownRenderer is returned when a renderer key was never issued or was disposed.
	ErrUnknownRenderer = errors.New("rendering system: unknown renderer key")
	// ErrBufferSizeExceeded is returned when a buffer size is negative or above Settings.MaxBufferSize.
	ErrBufferSizeExceeded = errors.New("rendering system: buffer size out of range")
	// ErrInstanceCountOutOfRange is returned when an instance count is negative or above the buffer size.
	ErrInstanceCountOutOfRange = errors.New("rendering system: instance count out of range")
	// ErrNilOwner is returned when a renderer is registered without an owner.
	ErrNilOwner = errors.New("rendering system: nil owner")
	// ErrUnsupportedPlatform is returned when the renderer cannot run compute shaders.
	ErrUnsupportedPlatform = errors.New("rendering system: compute shaders are not supported")
	// ErrDisposed is returned by mutators called after Dispose.
	ErrDisposed = errors.New("rendering system: disposed")

	// ErrNilLODGroupData is returned when a prototype has no LOD group data.
	ErrNilLODGroupData = render_source.ErrNilLODGroupData
	// ErrNilProfile is returned when a prototype has no profile.
	ErrNilProfile = render_source.ErrNilProfile
	// ErrTransformRangeOutOfBounds is returned when a transform upload exceeds the source range
	// or the managed array.
	ErrTransformRangeOutOfBounds = render_source.ErrRangeOutOfBounds
	// ErrUnsupportedPropertyValue is returned when a material override value has an unsupported type.
	ErrUnsupportedPropertyValue = render_source.ErrUnsupportedValue
)
