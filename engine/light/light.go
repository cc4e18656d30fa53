package light

import "github.com/go-gl/mathgl/mgl32"

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	direction    mgl32.Vec3
	color        mgl32.Vec3
	intensity    float32
	enabled      bool
	castsShadows bool
}

// Light defines the interface for the directional light that drives the instanced shadow pass.
//
// The rendering system builds the shadow view-projection from the light direction every
// camera pass, centered on the camera, and binds it next to the camera uniforms. Instanced
// shaders read the direction and color for their simple lit term.
type Light interface {
	// Direction returns the normalized direction the light points toward.
	//
	// Returns:
	//   - mgl32.Vec3: normalized direction
	Direction() mgl32.Vec3

	// Color returns the RGB color of the light.
	//
	// Returns:
	//   - mgl32.Vec3: color as (r, g, b)
	Color() mgl32.Vec3

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// Enabled returns whether this light is active for rendering.
	//
	// Returns:
	//   - bool: true if the light is enabled
	Enabled() bool

	// CastsShadows returns whether the light renders the shadow pass. A disabled light never
	// casts shadows.
	//
	// Returns:
	//   - bool: true if the shadow pass should be drawn
	CastsShadows() bool

	// SetDirection sets the direction of the light and normalizes it. A zero vector is ignored.
	//
	// Parameters:
	//   - x, y, z: direction components (will be normalized)
	SetDirection(x, y, z float32)

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - r, g, b: color components
	SetColor(r, g, b float32)

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetEnabled enables or disables the light for rendering.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// SetCastsShadows sets whether the light is eligible for shadow mapping.
	//
	// Parameters:
	//   - castsShadows: true to enable shadow casting
	SetCastsShadows(castsShadows bool)
}

var _ Light = &lightImpl{}

// NewLight creates a directional Light pointing straight down with any provided options applied.
//
// Parameters:
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(opts ...LightBuilderOption) Light {
	l := &lightImpl{
		direction:    mgl32.Vec3{0, -1, 0},
		color:        mgl32.Vec3{1, 1, 1},
		intensity:    1,
		enabled:      true,
		castsShadows: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Direction() mgl32.Vec3 {
	return l.direction
}

func (l *lightImpl) Color() mgl32.Vec3 {
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	return l.intensity
}

func (l *lightImpl) Enabled() bool {
	return l.enabled
}

func (l *lightImpl) CastsShadows() bool {
	return l.enabled && l.castsShadows
}

func (l *lightImpl) SetDirection(x, y, z float32) {
	if d, ok := normalize(x, y, z); ok {
		l.direction = d
	}
}

func (l *lightImpl) SetColor(r, g, b float32) {
	l.color = mgl32.Vec3{r, g, b}
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.intensity = intensity
}

func (l *lightImpl) SetEnabled(enabled bool) {
	l.enabled = enabled
}

func (l *lightImpl) SetCastsShadows(castsShadows bool) {
	l.castsShadows = castsShadows
}
