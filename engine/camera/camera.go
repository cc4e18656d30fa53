package camera

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/go-gl/mathgl/mgl32"
)

// cameraCount is an atomic counter used to hand out unique camera IDs.
var cameraCount atomic.Int64

// CameraType classifies a camera for automatic registration.
type CameraType int

const (
	// CameraTypeGame is a regular in-game camera.
	CameraTypeGame CameraType = iota
	// CameraTypeSceneView is an editor or debug scene view camera.
	CameraTypeSceneView
	// CameraTypeReflection renders planar or probe reflections.
	CameraTypeReflection
	// CameraTypePreview renders thumbnails and previews. Preview cameras are never registered;
	// they are served by transient camera data.
	CameraTypePreview
)

// String returns the lower-case name of the camera type.
func (t CameraType) String() string {
	switch t {
	case CameraTypeSceneView:
		return "scene_view"
	case CameraTypeReflection:
		return "reflection"
	case CameraTypePreview:
		return "preview"
	default:
		return "game"
	}
}

// AllLayers is the culling mask that accepts every layer.
const AllLayers uint32 = 0xFFFFFFFF

type cameraImpl struct {
	mu *sync.Mutex

	id          int
	cameraType  CameraType
	cullingMask uint32
	destroyed   bool

	position mgl32.Vec3
	target   mgl32.Vec3
	up       mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	viewMatrix           mgl32.Mat4
	projectionMatrix     mgl32.Mat4
	viewProjectionMatrix mgl32.Mat4
	prevViewProjection   mgl32.Mat4

	// submittedViewProjection is the matrix captured by the last Update. SetPose recomputes
	// viewProjectionMatrix immediately, so the previous frame is tracked separately.
	submittedViewProjection mgl32.Mat4

	controller Controller
}

// Camera defines the interface for a rendering camera.
// The camera holds perspective settings and a pose, and computes view/projection matrices
// each time Update is called. When a Controller is attached, the pose is read from it.
type Camera interface {
	// ID returns the process-unique camera identifier.
	//
	// Returns:
	//   - int: the camera ID
	ID() int

	// Type returns the camera classification.
	//
	// Returns:
	//   - CameraType: the camera type
	Type() CameraType

	// CullingMask returns the layer mask. A renderer on layer L is drawn when bit L is set.
	//
	// Returns:
	//   - uint32: the culling mask
	CullingMask() uint32

	// SetCullingMask sets the layer mask.
	//
	// Parameters:
	//   - mask: the new culling mask
	SetCullingMask(mask uint32)

	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - mgl32.Vec3: the position
	Position() mgl32.Vec3

	// SetPose places the camera and recomputes matrices. Ignored while a controller is attached.
	//
	// Parameters:
	//   - position: world-space eye position
	//   - target: world-space look-at point
	SetPose(position, target mgl32.Vec3)

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// Near returns the near clipping plane distance.
	Near() float32

	// Far returns the far clipping plane distance.
	Far() float32

	// SetAspect sets the aspect ratio (width / height) and recomputes matrices.
	//
	// Parameters:
	//   - aspect: the aspect ratio
	SetAspect(aspect float32)

	// SetFar sets the far clipping plane distance and recomputes matrices.
	//
	// Parameters:
	//   - far: far plane distance
	SetFar(far float32)

	// ViewMatrix returns the current view matrix.
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the current projection matrix.
	ProjectionMatrix() mgl32.Mat4

	// ViewProjectionMatrix returns the current combined view-projection matrix.
	ViewProjectionMatrix() mgl32.Mat4

	// Uniform returns the view uniform for the current matrices.
	//
	// Returns:
	//   - GPUCameraUniform: the uniform ready for upload
	Uniform() GPUCameraUniform

	// Controller returns the attached Controller, or nil.
	Controller() Controller

	// SetController attaches a Controller to the camera.
	//
	// Parameters:
	//   - ctrl: the controller to attach, or nil to detach
	SetController(ctrl Controller)

	// Update reads the pose from the controller, if any, and recomputes matrices. The previous
	// view-projection is kept for motion vectors.
	Update()

	// Destroy marks the camera destroyed. The rendering system drops its camera data on the
	// next frame end.
	Destroy()

	// Destroyed reports whether Destroy was called.
	Destroyed() bool
}

var _ Camera = &cameraImpl{}

// NewCamera creates a new Camera with default perspective settings looking down -Z from the origin.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:          &sync.Mutex{},
		id:          int(cameraCount.Add(1)),
		cullingMask: AllLayers,
		target:      mgl32.Vec3{0, 0, -1},
		up:          mgl32.Vec3{0, 1, 0},
		fov:         mgl32.DegToRad(60),
		aspect:      16.0 / 9.0,
		near:        0.1,
		far:         1000.0,
	}
	for _, option := range options {
		option(c)
	}
	c.updateMatrices()
	c.prevViewProjection = c.viewProjectionMatrix
	c.submittedViewProjection = c.viewProjectionMatrix
	return c
}

func (c *cameraImpl) ID() int {
	return c.id
}

func (c *cameraImpl) Type() CameraType {
	return c.cameraType
}

func (c *cameraImpl) CullingMask() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cullingMask
}

func (c *cameraImpl) SetCullingMask(mask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cullingMask = mask
}

func (c *cameraImpl) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) SetPose(position, target mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller != nil {
		return
	}
	c.position = position
	c.target = target
	c.updateMatrices()
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetFar(far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.far = far
	c.updateMatrices()
}

func (c *cameraImpl) ViewMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) ProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionMatrix
}

func (c *cameraImpl) ViewProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionMatrix
}

func (c *cameraImpl) Uniform() GPUCameraUniform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GPUCameraUniform{
		ViewProj:       c.viewProjectionMatrix,
		PrevViewProj:   c.prevViewProjection,
		CameraPosition: c.position,
		CullingMask:    c.cullingMask,
	}
}

func (c *cameraImpl) Controller() Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevViewProjection = c.submittedViewProjection
	c.updateMatrices()
	c.submittedViewProjection = c.viewProjectionMatrix
}

func (c *cameraImpl) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

func (c *cameraImpl) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// updateMatrices recalculates the view, projection and view-projection matrices.
// Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	if c.controller != nil {
		c.position = c.controller.Position()
		c.target = c.controller.Target()
	}
	c.viewMatrix = mgl32.LookAtV(c.position, c.target, c.up)
	c.projectionMatrix = common.Perspective(c.fov, c.aspect, c.near, c.far)
	c.viewProjectionMatrix = c.projectionMatrix.Mul4(c.viewMatrix)
}
