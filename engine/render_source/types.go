package render_source

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
)

var (
	// ErrNilLODGroupData is returned when a group is requested without LOD data.
	ErrNilLODGroupData = errors.New("render source: nil LOD group data")
	// ErrNilProfile is returned when a group is requested without a profile.
	ErrNilProfile = errors.New("render source: nil profile")
	// ErrUnknownSource is returned when a renderer key has no source.
	ErrUnknownSource = errors.New("render source: unknown renderer key")
	// ErrUnknownGroup is returned when a group key has no group.
	ErrUnknownGroup = errors.New("render source: unknown group")
	// ErrRangeOutOfBounds is returned when a transform write exceeds a source's buffer range.
	ErrRangeOutOfBounds = errors.New("render source: transform range out of bounds")
	// ErrUnsupportedValue is returned when a property override carries an unsupported value type.
	ErrUnsupportedValue = errors.New("render source: unsupported property value")
)

// TransformBufferType selects the per-instance transform layout of a group.
type TransformBufferType int

const (
	// TransformBufferMatrix4x4 stores one column-major mat4x4<f32> per instance.
	TransformBufferMatrix4x4 TransformBufferType = iota
	// TransformBufferPacked3x4 stores the upper three rows of each matrix (three vec4<f32>).
	TransformBufferPacked3x4
)

// Stride returns the byte size of one instance transform.
func (t TransformBufferType) Stride() int {
	if t == TransformBufferPacked3x4 {
		return common.Matrix3x4Stride
	}
	return common.Matrix4x4Stride
}

// String returns the short name of the layout.
func (t TransformBufferType) String() string {
	if t == TransformBufferPacked3x4 {
		return "packed3x4"
	}
	return "mat4x4"
}

// GroupKey identifies a RenderSourceGroup. Two registrations with an equal key share a group.
type GroupKey struct {
	PrototypeKey string
	GroupID      int
	BufferType   TransformBufferType
	Keywords     shader.KeywordSet
}

// String formats the key for labels and logs.
func (k GroupKey) String() string {
	if k.Keywords == "" {
		return fmt.Sprintf("%s#%d/%s", k.PrototypeKey, k.GroupID, k.BufferType)
	}
	return fmt.Sprintf("%s#%d/%s[%s]", k.PrototypeKey, k.GroupID, k.BufferType, k.Keywords)
}

// RenderSource is one registration: an owner drawing up to BufferSize instances from the
// range [BufferStartIndex, BufferStartIndex+BufferSize) of its group's transform buffer.
type RenderSource struct {
	// Key is the renderer key handed back to the caller at registration.
	Key int
	// Owner is the object that registered the source. It is never dereferenced.
	Owner any
	// Group is the key of the owning group.
	Group GroupKey
	// BufferStartIndex is the first instance slot of the source within the group buffer.
	BufferStartIndex int
	// BufferSize is the number of instance slots reserved for the source.
	BufferSize int
	// InstanceCount is the number of live instances, always at most BufferSize.
	InstanceCount int
}

// End returns one past the last slot of the source's range.
func (s *RenderSource) End() int {
	return s.BufferStartIndex + s.BufferSize
}
