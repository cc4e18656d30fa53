package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Controller owns a camera pose. Camera.Update reads Position and Target from it.
type Controller interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - mgl32.Vec3: world-space camera position
	Position() mgl32.Vec3

	// Target returns the look-at point.
	//
	// Returns:
	//   - mgl32.Vec3: world-space target position
	Target() mgl32.Vec3
}

// OrbitController orbits a target using spherical coordinates (radius, azimuth, elevation).
type OrbitController interface {
	Controller

	// Orbit rotates around the target. Elevation is clamped to just under the poles.
	//
	// Parameters:
	//   - dAzimuth: change of the horizontal angle in radians
	//   - dElevation: change of the vertical angle in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom changes the orbit radius, clamped to [MinRadius, MaxRadius].
	//
	// Parameters:
	//   - delta: positive values move toward the target
	Zoom(delta float32)

	// SetTarget moves the pivot point.
	//
	// Parameters:
	//   - target: the new world-space pivot
	SetTarget(target mgl32.Vec3)

	// Radius returns the current orbit radius.
	Radius() float32
}

type orbitController struct {
	mu                   *sync.Mutex
	target               mgl32.Vec3
	radius               float32
	minRadius, maxRadius float32
	azimuth, elevation   float32
}

var _ OrbitController = &orbitController{}

// NewOrbitController creates an OrbitController around target.
//
// Parameters:
//   - target: the pivot point
//   - radius: the initial distance from the pivot
//   - azimuth: the initial horizontal angle in radians
//   - elevation: the initial vertical angle in radians
//
// Returns:
//   - OrbitController: the controller
func NewOrbitController(target mgl32.Vec3, radius, azimuth, elevation float32) OrbitController {
	return &orbitController{
		mu:        &sync.Mutex{},
		target:    target,
		radius:    radius,
		minRadius: 1,
		maxRadius: max(radius*4, 1),
		azimuth:   azimuth,
		elevation: common.Clamp(elevation, -maxElevation, maxElevation),
	}
}

const maxElevation = math32.Pi/2 - 0.01

func (o *orbitController) Position() mgl32.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	cosE := math32.Cos(o.elevation)
	offset := mgl32.Vec3{
		o.radius * cosE * math32.Sin(o.azimuth),
		o.radius * math32.Sin(o.elevation),
		o.radius * cosE * math32.Cos(o.azimuth),
	}
	return o.target.Add(offset)
}

func (o *orbitController) Target() mgl32.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

func (o *orbitController) Orbit(dAzimuth, dElevation float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.azimuth += dAzimuth
	o.elevation = common.Clamp(o.elevation+dElevation, -maxElevation, maxElevation)
}

func (o *orbitController) Zoom(delta float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.radius = common.Clamp(o.radius-delta, o.minRadius, o.maxRadius)
}

func (o *orbitController) SetTarget(target mgl32.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = target
}

func (o *orbitController) Radius() float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.radius
}
