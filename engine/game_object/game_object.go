package game_object

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

type gameObject struct {
	id      uint64
	enabled atomic.Bool
	version uint64

	position      mgl32.Vec3
	rotation      mgl32.Vec3
	rotationSpeed mgl32.Vec3
	scale         mgl32.Vec3
}

// GameObject is one instance of an instanced batch. It owns the CPU side transform state the
// scene packs into the batch's transform buffer.
type GameObject interface {
	// ID returns the object's unique identifier.
	//
	// Returns:
	//   - uint64: the object ID
	ID() uint64

	// SetID sets the object's unique identifier.
	//
	// Parameters:
	//   - id: the ID to assign
	SetID(id uint64)

	// Enabled returns whether this object is drawn. Disabled objects keep their slot out of the
	// batch's live instance range.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// SetEnabled sets whether the object is drawn.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// Version increases with every change to the transform state or the enabled flag.
	//
	// Returns:
	//   - uint64: the version
	Version() uint64

	// Position returns the world position.
	Position() mgl32.Vec3

	// Rotation returns the Euler rotation in radians, in mgl32.XYZ order.
	Rotation() mgl32.Vec3

	// RotationSpeed returns the Euler rotation speed in radians per second.
	RotationSpeed() mgl32.Vec3

	// Scale returns the per-axis scale.
	Scale() mgl32.Vec3

	// SetPosition sets the world position.
	//
	// Parameters:
	//   - p: the new position
	SetPosition(p mgl32.Vec3)

	// SetRotation sets the Euler rotation in radians.
	//
	// Parameters:
	//   - r: the new rotation
	SetRotation(r mgl32.Vec3)

	// SetRotationSpeed sets the Euler rotation speed in radians per second.
	//
	// Parameters:
	//   - s: the new rotation speed
	SetRotationSpeed(s mgl32.Vec3)

	// SetScale sets the per-axis scale.
	//
	// Parameters:
	//   - s: the new scale
	SetScale(s mgl32.Vec3)

	// Update advances the rotation by the rotation speed.
	//
	// Parameters:
	//   - deltaTime: the elapsed time in seconds
	//
	// Returns:
	//   - bool: true if the transform changed
	Update(deltaTime float32) bool

	// Transform returns the model matrix, translation * rotation * scale.
	//
	// Returns:
	//   - mgl32.Mat4: the model matrix
	Transform() mgl32.Mat4
}

var _ GameObject = &gameObject{}

// NewGameObject creates a new enabled GameObject configured with the given options.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		scale: mgl32.Vec3{1, 1, 1},
	}
	obj.enabled.Store(true)
	for _, option := range options {
		option(obj)
	}
	return obj
}

func (g *gameObject) ID() uint64 {
	return g.id
}

func (g *gameObject) SetID(id uint64) {
	g.id = id
}

func (g *gameObject) Enabled() bool {
	return g.enabled.Load()
}

func (g *gameObject) SetEnabled(enabled bool) {
	if g.enabled.Swap(enabled) != enabled {
		g.version++
	}
}

func (g *gameObject) Version() uint64 {
	return g.version
}

func (g *gameObject) Position() mgl32.Vec3 {
	return g.position
}

func (g *gameObject) Rotation() mgl32.Vec3 {
	return g.rotation
}

func (g *gameObject) RotationSpeed() mgl32.Vec3 {
	return g.rotationSpeed
}

func (g *gameObject) Scale() mgl32.Vec3 {
	return g.scale
}

func (g *gameObject) SetPosition(p mgl32.Vec3) {
	g.position = p
	g.version++
}

func (g *gameObject) SetRotation(r mgl32.Vec3) {
	g.rotation = r
	g.version++
}

func (g *gameObject) SetRotationSpeed(s mgl32.Vec3) {
	g.rotationSpeed = s
}

func (g *gameObject) SetScale(s mgl32.Vec3) {
	g.scale = s
	g.version++
}

func (g *gameObject) Update(deltaTime float32) bool {
	if g.rotationSpeed == (mgl32.Vec3{}) || deltaTime == 0 {
		return false
	}
	g.rotation = g.rotation.Add(g.rotationSpeed.Mul(deltaTime))
	g.version++
	return true
}

func (g *gameObject) Transform() mgl32.Mat4 {
	rot := mgl32.AnglesToQuat(g.rotation[0], g.rotation[1], g.rotation[2], mgl32.XYZ).Mat4()
	return mgl32.Translate3D(g.position[0], g.position[1], g.position[2]).
		Mul4(rot).
		Mul4(mgl32.Scale3D(g.scale[0], g.scale[1], g.scale[2]))
}
