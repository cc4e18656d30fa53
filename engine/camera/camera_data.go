package camera

import (
	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
)

// NeverUpdated is the LastUpdateFrame of camera data that has not been updated yet.
const NeverUpdated int64 = -1

// ViewBinding is the view group slot holding GPUCameraUniform.
const ViewBinding = 0

// GroupEntry places one render source group inside a camera's command buffer.
type GroupEntry struct {
	// VisibilityBufferIndex indexes VisibilityBuffers.
	VisibilityBufferIndex int
	// CommandStartIndex is the first indirect command of the group in the args buffer.
	CommandStartIndex int
	// CommandCount is the number of commands the group occupies, both passes included.
	CommandCount int
	// CullingUniforms is the per camera and group uniform buffer of the culling dispatch.
	CullingUniforms *resource.Buffer
	// Bindings is the culling dispatch's group 0.
	Bindings property_block.PropertyBlock
	// Instance is bound as the instance group of every draw of the group.
	Instance property_block.PropertyBlock
	// LayoutVersion is the group layout the entry was built for.
	LayoutVersion uint64
}

// CommandBuffer is the per-camera indirect draw state produced by a command buffer rebuild.
type CommandBuffer struct {
	// Args holds one 20-byte indirect record per command.
	Args *resource.Buffer
	// Template is the args content with every instance count zeroed. It is written at the start
	// of each camera pass before the culling kernel increments the counts.
	Template []byte
	// VisibilityBuffers holds one uint32 array per group.
	VisibilityBuffers []*resource.Buffer
	// Entries maps every drawable group to its place in the buffers.
	Entries map[render_source.GroupKey]GroupEntry
	// CommandCount is the total number of commands in Args.
	CommandCount int
}

// Release frees every buffer of the command buffer.
func (cb *CommandBuffer) Release(r renderer.Renderer) {
	if cb == nil {
		return
	}
	r.ReleaseBuffer(cb.Args)
	for _, v := range cb.VisibilityBuffers {
		r.ReleaseBuffer(v)
	}
	for _, e := range cb.Entries {
		r.ReleaseBuffer(e.CullingUniforms)
	}
	cb.Args = nil
	cb.VisibilityBuffers = nil
	cb.Entries = nil
}

// cameraData is the implementation of the CameraData interface.
type cameraData struct {
	camera          Camera
	preview         bool
	lastUpdateFrame int64
	frustum         common.Frustum
	position        mgl32.Vec3
	viewProjection  mgl32.Mat4
	view            property_block.PropertyBlock
	commands        *CommandBuffer
	hiZ             *resource.Texture
	occlusionFrame  int64
}

// CameraData is the cached per-camera visibility state: frustum, position and view uniforms
// refreshed at most once per frame, the command buffer, and the optional Hi-Z texture.
type CameraData interface {
	// Camera returns the camera the data belongs to.
	//
	// Returns:
	//   - Camera: the camera
	Camera() Camera

	// Preview reports whether the data is transient preview data dropped at frame end.
	//
	// Returns:
	//   - bool: true for preview data
	Preview() bool

	// Update refreshes the cached camera state for a frame. Calls for a frame that was already
	// processed are no-ops.
	//
	// Parameters:
	//   - frame: the frame number
	//
	// Returns:
	//   - bool: true if the state was refreshed
	Update(frame int64) bool

	// LastUpdateFrame returns the frame of the last refresh, or NeverUpdated.
	//
	// Returns:
	//   - int64: the frame number
	LastUpdateFrame() int64

	// Frustum returns the cached frustum planes.
	Frustum() common.Frustum

	// Position returns the cached camera position.
	Position() mgl32.Vec3

	// ViewProjection returns the cached view-projection matrix.
	ViewProjection() mgl32.Mat4

	// ViewBlock returns the property block bound as the view group of every draw.
	//
	// Returns:
	//   - property_block.PropertyBlock: the view block
	ViewBlock() property_block.PropertyBlock

	// CommandBuffer returns the command buffer, or nil before the first rebuild.
	//
	// Returns:
	//   - *CommandBuffer: the command buffer
	CommandBuffer() *CommandBuffer

	// SetCommandBuffer replaces the command buffer, releasing the previous one.
	//
	// Parameters:
	//   - r: the renderer owning the buffers
	//   - cb: the new command buffer
	SetCommandBuffer(r renderer.Renderer, cb *CommandBuffer)

	// Entry returns the command buffer entry of a group.
	//
	// Parameters:
	//   - key: the group key
	//
	// Returns:
	//   - GroupEntry: the entry
	//   - bool: false if the group has no entry
	Entry(key render_source.GroupKey) (GroupEntry, bool)

	// HiZ returns the Hi-Z occlusion texture, or nil.
	HiZ() *resource.Texture

	// SetHiZ replaces the Hi-Z texture and records the frame it was built in.
	//
	// Parameters:
	//   - r: the renderer owning the texture
	//   - tex: the new texture
	//   - frame: the frame the texture reflects
	SetHiZ(r renderer.Renderer, tex *resource.Texture, frame int64)

	// OcclusionFrame returns the frame the Hi-Z texture reflects, or NeverUpdated.
	OcclusionFrame() int64

	// Dispose releases every GPU resource.
	//
	// Parameters:
	//   - r: the renderer owning the resources
	Dispose(r renderer.Renderer)
}

var _ CameraData = &cameraData{}

// NewCameraData creates camera data in the registered state.
//
// Parameters:
//   - cam: the camera
//   - preview: true for transient preview data
//
// Returns:
//   - CameraData: the new data
func NewCameraData(cam Camera, preview bool) CameraData {
	label := "Camera View"
	if preview {
		label = "Preview Camera View"
	}
	return &cameraData{
		camera:          cam,
		preview:         preview,
		lastUpdateFrame: NeverUpdated,
		occlusionFrame:  NeverUpdated,
		view:            property_block.NewPropertyBlock(label),
	}
}

func (d *cameraData) Camera() Camera {
	return d.camera
}

func (d *cameraData) Preview() bool {
	return d.preview
}

func (d *cameraData) Update(frame int64) bool {
	if d.lastUpdateFrame == frame {
		return false
	}
	d.lastUpdateFrame = frame
	d.viewProjection = d.camera.ViewProjectionMatrix()
	d.position = d.camera.Position()
	d.frustum = common.ExtractFrustum(d.viewProjection)
	uniform := d.camera.Uniform()
	d.view.SetFloats(ViewBinding, uniform.Floats()...)
	return true
}

func (d *cameraData) LastUpdateFrame() int64 {
	return d.lastUpdateFrame
}

func (d *cameraData) Frustum() common.Frustum {
	return d.frustum
}

func (d *cameraData) Position() mgl32.Vec3 {
	return d.position
}

func (d *cameraData) ViewProjection() mgl32.Mat4 {
	return d.viewProjection
}

func (d *cameraData) ViewBlock() property_block.PropertyBlock {
	return d.view
}

func (d *cameraData) CommandBuffer() *CommandBuffer {
	return d.commands
}

func (d *cameraData) SetCommandBuffer(r renderer.Renderer, cb *CommandBuffer) {
	if d.commands != cb {
		d.commands.Release(r)
	}
	d.commands = cb
}

func (d *cameraData) Entry(key render_source.GroupKey) (GroupEntry, bool) {
	if d.commands == nil {
		return GroupEntry{}, false
	}
	e, ok := d.commands.Entries[key]
	return e, ok
}

func (d *cameraData) HiZ() *resource.Texture {
	return d.hiZ
}

func (d *cameraData) SetHiZ(r renderer.Renderer, tex *resource.Texture, frame int64) {
	if d.hiZ != nil && d.hiZ != tex {
		r.ReleaseTexture(d.hiZ)
	}
	d.hiZ = tex
	d.occlusionFrame = frame
}

func (d *cameraData) OcclusionFrame() int64 {
	return d.occlusionFrame
}

func (d *cameraData) Dispose(r renderer.Renderer) {
	d.commands.Release(r)
	d.commands = nil
	if d.hiZ != nil {
		r.ReleaseTexture(d.hiZ)
		d.hiZ = nil
	}
}
