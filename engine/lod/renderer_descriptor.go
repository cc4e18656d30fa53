package lod

import (
	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

// RendererDescriptor is one drawable part of an LOD level: a mesh and one material per submesh,
// plus the per-renderer flags the draw loop filters on.
type RendererDescriptor struct {
	// Mesh is the indexed mesh. Its submeshes are drawn in material order.
	Mesh model.Model
	// Materials holds one material per drawn submesh. It may be shorter than the submesh list.
	Materials []material.Material
	// Layer is tested against the camera culling mask as 1<<Layer.
	Layer int
	// ShadowMode selects whether the renderer draws in the main pass, the shadow pass or both.
	ShadowMode renderer.ShadowCastingMode
	// MotionVectors selects how motion vectors are produced.
	MotionVectors renderer.MotionVectorMode
	// ReceiveShadows toggles shadow receiving in the main pass.
	ReceiveShadows bool
	// RenderingLayerMask is forwarded to the view uniforms unchanged.
	RenderingLayerMask uint32
	// LocalOffset transforms the mesh relative to the instance transform. The zero value is
	// treated as identity.
	LocalOffset mgl32.Mat4
}

// MaterialCount returns the number of indirect commands this renderer occupies per pass.
func (r RendererDescriptor) MaterialCount() int {
	return len(r.Materials)
}

// Offset returns LocalOffset, substituting identity for the zero matrix.
func (r RendererDescriptor) Offset() mgl32.Mat4 {
	if r.LocalOffset == (mgl32.Mat4{}) {
		return mgl32.Ident4()
	}
	return r.LocalOffset
}

// Bounds returns the mesh bounds transformed by the local offset.
func (r RendererDescriptor) Bounds() common.Bounds {
	if r.Mesh == nil {
		return common.Bounds{}
	}
	return r.Mesh.Bounds().Transform(r.Offset())
}

// DrawsMainPass reports whether the renderer draws in the opaque pass.
func (r RendererDescriptor) DrawsMainPass() bool {
	return r.ShadowMode != renderer.ShadowCastingShadowsOnly
}

// CastsShadows reports whether the renderer draws in the shadow pass.
func (r RendererDescriptor) CastsShadows() bool {
	return r.ShadowMode.CastsShadows()
}

// Level is one LOD: its renderers and the camera distance up to which it is selected.
type Level struct {
	Renderers          []RendererDescriptor
	TransitionDistance float32
}

// MaterialCount returns the total material count of every renderer in the level.
func (l Level) MaterialCount() int {
	n := 0
	for _, r := range l.Renderers {
		n += r.MaterialCount()
	}
	return n
}
