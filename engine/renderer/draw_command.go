package renderer

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
)

// ShadowCastingMode controls whether a draw contributes to the main pass, the shadow pass or both.
type ShadowCastingMode int

const (
	// ShadowCastingOff draws in the main pass only.
	ShadowCastingOff ShadowCastingMode = iota
	// ShadowCastingOn draws in the main pass and casts shadows.
	ShadowCastingOn
	// ShadowCastingTwoSided casts shadows from both faces.
	ShadowCastingTwoSided
	// ShadowCastingShadowsOnly draws into the shadow pass only.
	ShadowCastingShadowsOnly
)

// CastsShadows reports whether the mode contributes to the shadow pass.
func (m ShadowCastingMode) CastsShadows() bool {
	return m != ShadowCastingOff
}

// MotionVectorMode selects how motion vectors are generated for a draw.
type MotionVectorMode int

const (
	// MotionVectorCamera derives motion from camera movement only.
	MotionVectorCamera MotionVectorMode = iota
	// MotionVectorObject derives motion from the previous-frame transform buffer.
	MotionVectorObject
	// MotionVectorForceNone disables motion vectors.
	MotionVectorForceNone
)

// RenderPass identifies which pass a draw is encoded into.
type RenderPass int

const (
	// RenderPassMain is the color + depth pass.
	RenderPassMain RenderPass = iota
	// RenderPassShadow is the depth-only shadow pass. It is encoded before the main pass.
	RenderPassShadow
)

// Bind group slots used by instanced render pipelines.
const (
	GroupInstance = 0
	GroupMaterial = 1
	GroupView     = 2
)

// DrawCommand describes one indirect instanced draw. The instance count and buffer shift are
// read from the args record at ArgsOffset, so the same command can be re-issued every frame
// while the visibility pass rewrites the record.
type DrawCommand struct {
	PipelineKey string
	Keywords    shader.KeywordSet
	Pass        RenderPass

	Mesh       *resource.MeshBuffers
	ArgsBuffer *resource.Buffer
	ArgsOffset uint64

	// Instance is bound at GroupInstance (transforms, visibility, draw params, overrides).
	Instance property_block.PropertyBlock
	// Material is bound at GroupMaterial.
	Material property_block.PropertyBlock
	// View is bound at GroupView (camera uniforms).
	View property_block.PropertyBlock

	Layer              int
	ShadowMode         ShadowCastingMode
	MotionVectors      MotionVectorMode
	ReceiveShadows     bool
	RenderingLayerMask uint32

	// BufferShift is the first visibility slot this draw reads; mirrored in the args FirstInstance.
	BufferShift uint32
	// CommandIndex is the args record index (ArgsOffset / IndirectArgsStride).
	CommandIndex int
	CameraID     int
}

// ComputeDispatch describes one compute dispatch. Bindings is bound at group 0.
type ComputeDispatch struct {
	Label          string
	PipelineKey    string
	Keywords       shader.KeywordSet
	Bindings       property_block.PropertyBlock
	WorkgroupCount [3]uint32
}

// FrameStats counts the work recorded during the last completed frame.
type FrameStats struct {
	DrawCalls       int
	ShadowDrawCalls int
	Dispatches      int
	BufferWrites    int
	BytesWritten    uint64
}
