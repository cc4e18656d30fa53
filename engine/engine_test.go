package engine

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/game_object"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	r     renderer.Renderer
	sys   rendering_system.RenderingSystem
	scene scene.Scene
	cam   camera.Camera
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeHeadless, nil)
	settings := config.Default()
	settings.MaxBufferSize = 1000
	sys, err := rendering_system.NewRenderingSystem(r, settings, rendering_system.WithShadowMapSize(64))
	require.NoError(t, err)
	t.Cleanup(sys.Dispose)

	cam := camera.NewCamera(camera.WithPose(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}))
	s := scene.NewScene("main", r, sys, scene.WithCameras(cam), scene.WithComputeWorkers(1))
	t.Cleanup(s.Dispose)

	data, err := lod.NewLODGroupData("cube",
		lod.WithLevel(500, lod.RendererDescriptor{
			Mesh:      model.NewCube("cube", false),
			Materials: []material.Material{material.NewMaterial(material.WithName("cube"))},
		}),
	)
	require.NoError(t, err)
	objs := make([]game_object.GameObject, 3)
	for i := range objs {
		objs[i] = game_object.NewGameObject(game_object.WithPosition(mgl32.Vec3{float32(i), 0, -20}))
	}
	_, err = s.AddBatch(rendering_system.Prototype{LODGroupData: data, Profile: profile.Default("cube")}, render_source.TransformBufferMatrix4x4, objs...)
	require.NoError(t, err)

	return &fixture{r: r, sys: sys, scene: s, cam: cam}
}

func TestNewEngine_PanicsWithoutDependencies(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() { NewEngine() })
	assert.Panics(t, func() { NewEngine(WithRenderer(f.r)) })
	assert.NotPanics(t, func() { NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys)) })
}

func TestNewEngine_SelectsAdapterFromSettings(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys))
	assert.Equal(t, config.PipelineScriptable, e.Adapter().Name())

	builtin := render_pipeline.NewBuiltinAdapter()
	e = NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys), WithAdapter(builtin))
	assert.Same(t, builtin, e.Adapter())
}

func TestFrame_RendersActiveSceneCameras(t *testing.T) {
	f := newFixture(t)
	var rendered []float32
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys), WithScene(0, f.scene))
	e.SetRenderCallback(func(dt float32) { rendered = append(rendered, dt) })

	require.NoError(t, e.Frame(0.016))
	stats := f.sys.Stats()
	assert.Equal(t, 1, stats.CameraPasses)
	assert.Equal(t, 3, stats.Instances)
	assert.Positive(t, stats.DrawCalls)
	assert.Equal(t, []float32{0.016}, rendered)

	f.scene.SetActive(false)
	require.NoError(t, e.Frame(0.016))
	assert.Zero(t, f.sys.Stats().CameraPasses)
}

func TestScenes_OrderAndLookup(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys))
	other := scene.NewScene("overlay", f.r, f.sys)
	t.Cleanup(other.Dispose)

	e.AddScene(5, other)
	e.AddScene(1, f.scene)
	assert.Same(t, f.scene, e.Scene(1))
	assert.Len(t, e.Scenes(), 2)

	impl := e.(*engine)
	active := impl.activeScenes()
	require.Len(t, active, 2)
	assert.Equal(t, "main", active[0].Name())

	e.RemoveScene(5)
	assert.Nil(t, e.Scene(5))
}

func TestApplySettings_LatestWinsAndSwapsPipeline(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys), WithScene(0, f.scene))

	first := f.sys.Settings()
	first.LODBias = 2
	second := first
	second.LODBias = 3
	second.Pipeline = config.PipelineBuiltin
	e.ApplySettings(first)
	e.ApplySettings(second)

	require.NoError(t, e.Frame(0.016))
	assert.Equal(t, float32(3), f.sys.Settings().LODBias)
	assert.IsType(t, &render_pipeline.BuiltinAdapter{}, e.Adapter())
	assert.Equal(t, 1, f.sys.Stats().CameraPasses)
}

func TestApplySettings_InvalidIsReported(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys))

	bad := f.sys.Settings()
	bad.MaxBufferSize = -1
	e.ApplySettings(bad)
	assert.Error(t, e.Frame(0.016))
	assert.Equal(t, 1000, f.sys.Settings().MaxBufferSize)
}

func TestFrame_TicksProfiler(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.InfoLevel)
	p := profiler.NewProfiler(profiler.WithLogger(zap.New(core)), profiler.WithInterval(time.Nanosecond))
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys), WithScene(0, f.scene), WithProfiler(p), WithProfiling(true))

	require.NoError(t, e.Frame(0.016))
	assert.Equal(t, 1, logs.FilterMessage("frame statistics").Len())
	assert.Equal(t, 3, p.Last().Instances)

	e.DisableProfiler()
	require.NoError(t, e.Frame(0.016))
	assert.Equal(t, 1, logs.FilterMessage("frame statistics").Len())
}

func TestRun_HeadlessStopsOnQuit(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(WithRenderer(f.r), WithRenderingSystem(f.sys), WithScene(0, f.scene), WithRenderFrameLimit(240))

	ticks := make(chan struct{}, 1)
	e.SetTickCallback(func(float32) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never ticked")
	}
	e.Quit()
	e.Quit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
}
