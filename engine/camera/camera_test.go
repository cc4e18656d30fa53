package camera

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCamera_PoseAndUniform(t *testing.T) {
	cam := NewCamera(WithPose(mgl32.Vec3{0, 2, 10}, mgl32.Vec3{}), WithCullingMask(0b101))
	assert.Equal(t, mgl32.Vec3{0, 2, 10}, cam.Position())

	u := cam.Uniform()
	assert.Equal(t, [3]float32{0, 2, 10}, u.CameraPosition)
	assert.Equal(t, uint32(0b101), u.CullingMask)
	assert.Equal(t, 144, u.Size())
	assert.Len(t, u.Floats(), 36)

	before := cam.ViewProjectionMatrix()
	cam.SetPose(mgl32.Vec3{5, 2, 10}, mgl32.Vec3{})
	cam.Update()
	assert.Equal(t, before, mgl32.Mat4(cam.Uniform().PrevViewProj), "Update keeps the previous matrix")
}

func TestCamera_PrevViewProjectionFollowsUpdates(t *testing.T) {
	cam := NewCamera(WithPose(mgl32.Vec3{0, 2, 10}, mgl32.Vec3{}))
	first := cam.ViewProjectionMatrix()

	// Several pose changes between updates still report the matrix of the last update.
	cam.SetPose(mgl32.Vec3{3, 2, 10}, mgl32.Vec3{})
	cam.SetPose(mgl32.Vec3{6, 2, 10}, mgl32.Vec3{})
	cam.Update()
	moved := cam.ViewProjectionMatrix()
	u := cam.Uniform()
	assert.Equal(t, first, mgl32.Mat4(u.PrevViewProj))
	assert.Equal(t, moved, mgl32.Mat4(u.ViewProj))
	assert.NotEqual(t, u.ViewProj, u.PrevViewProj)

	cam.Update()
	u = cam.Uniform()
	assert.Equal(t, moved, mgl32.Mat4(u.PrevViewProj), "a still camera has no motion")
	assert.Equal(t, u.ViewProj, u.PrevViewProj)
}

func TestCamera_UniqueIDs(t *testing.T) {
	a, b := NewCamera(), NewCamera()
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestOrbitController_DrivesCamera(t *testing.T) {
	ctrl := NewOrbitController(mgl32.Vec3{}, 10, 0, 0)
	cam := NewCamera(WithController(ctrl))
	assert.InDelta(t, 10, cam.Position().Z(), 1e-4)

	ctrl.Orbit(mgl32.DegToRad(90), 0)
	cam.Update()
	assert.InDelta(t, 10, cam.Position().X(), 1e-4)

	ctrl.Zoom(100)
	assert.Equal(t, float32(1), ctrl.Radius())

	cam.SetPose(mgl32.Vec3{99, 99, 99}, mgl32.Vec3{})
	assert.NotEqual(t, float32(99), cam.Position().X(), "controller owns the pose")
}

func TestCameraData_UpdateOncePerFrame(t *testing.T) {
	cam := NewCamera(WithPose(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}))
	d := NewCameraData(cam, false)
	assert.Equal(t, NeverUpdated, d.LastUpdateFrame())

	assert.True(t, d.Update(3))
	assert.Equal(t, int64(3), d.LastUpdateFrame())
	assert.Equal(t, mgl32.Vec3{0, 0, 5}, d.Position())
	version := d.ViewBlock().Version()

	cam.SetPose(mgl32.Vec3{0, 0, 50}, mgl32.Vec3{})
	assert.False(t, d.Update(3), "second call in the same frame is a no-op")
	assert.Equal(t, mgl32.Vec3{0, 0, 5}, d.Position())
	assert.Equal(t, version, d.ViewBlock().Version())

	assert.True(t, d.Update(4))
	assert.Equal(t, mgl32.Vec3{0, 0, 50}, d.Position())
}

func TestCameraDataProvider_RegistrationRules(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	p := NewCameraDataProvider(r)

	game := NewCamera(WithType(CameraTypeGame))
	reflection := NewCamera(WithType(CameraTypeReflection))
	preview := NewCamera(WithType(CameraTypePreview))

	d, ok := p.Resolve(game)
	require.True(t, ok)
	assert.False(t, d.Preview())
	again, _ := p.Resolve(game)
	assert.Same(t, d, again)

	_, ok = p.Resolve(reflection)
	assert.True(t, ok)

	pd, ok := p.Resolve(preview)
	require.True(t, ok)
	assert.True(t, pd.Preview())
	_, registered := p.Get(preview)
	assert.False(t, registered)
	assert.Len(t, p.All(), 2)
	assert.Len(t, p.Transient(), 1)

	p.EndFrame()
	assert.Empty(t, p.Transient())

	game.Destroy()
	p.EndFrame()
	assert.Len(t, p.All(), 1)
	_, ok = p.Resolve(game)
	assert.False(t, ok)
}

func TestCameraDataProvider_NoAutoRegister(t *testing.T) {
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	p := NewCameraDataProvider(r, WithAutoRegister(false))
	cam := NewCamera()

	_, ok := p.Resolve(cam)
	assert.False(t, ok)

	p.Register(cam)
	_, ok = p.Resolve(cam)
	assert.True(t, ok)

	p.Unregister(cam)
	assert.Empty(t, p.All())
}
