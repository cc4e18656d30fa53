// Command instancer-demo renders a field of rotating cubes and GPU generated grass through the
// instanced rendering system. Settings are read from a TOML or YAML file and hot reloaded.
//
// Pass -model to instance a static glTF model in a ring around the field.
//
// Controls: drag to orbit, scroll to zoom, O toggles occlusion culling, P switches the render
// pipeline adapter, M toggles motion vectors, - and = change the LOD bias.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine"
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/light"
	"github.com/Carmen-Shannon/oxy-instancer/engine/loader"
	"github.com/Carmen-Shannon/oxy-instancer/engine/logger"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancer/engine/terrain"
	"github.com/Carmen-Shannon/oxy-instancer/engine/window"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

func main() {
	settingsPath := flag.String("config", "", "settings file (.toml, .yaml or .yml)")
	frames := flag.Int("frames", 120, "frames to render with the headless backend")
	side := flag.Int("cubes", 64, "cubes per side of the cube field")
	modelPath := flag.String("model", "", "optional .gltf or .glb file instanced in a ring around the field")
	flag.Parse()

	if err := run(*settingsPath, *modelPath, *frames, *side); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(settingsPath, modelPath string, frames, side int) error {
	settings := config.Default()
	if settingsPath != "" {
		s, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		settings = s
	}

	log, err := logger.New(settings.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var win window.Window
	var r renderer.Renderer
	switch settings.Backend {
	case config.BackendHeadless:
		r = renderer.NewRenderer(renderer.BackendTypeHeadless, nil,
			renderer.WithLogger(log),
			renderer.WithHeadlessSize(settings.Window.Width, settings.Window.Height),
		)
	default:
		win = window.NewWindow(window.WithSettings(settings.Window), window.WithLogger(log))
		presentMode := renderer.PresentModeUncapped
		if win.VSync() {
			presentMode = renderer.PresentModeVSync
		}
		r = renderer.NewRenderer(renderer.BackendTypeWGPU, win,
			renderer.WithLogger(log),
			renderer.WithPresentMode(presentMode),
			renderer.WithMSAA(renderer.MSAASampleCount(settings.Window.MSAA)),
		)
	}

	sun := light.NewLight(light.WithDirection(-0.4, -1, -0.3), light.WithIntensity(1.2), light.WithCastsShadows(true))
	sys, err := rendering_system.NewRenderingSystem(r, settings,
		rendering_system.WithLogger(log),
		rendering_system.WithShadowLight(sun),
	)
	if err != nil {
		return fmt.Errorf("rendering system: %w", err)
	}
	defer sys.Dispose()

	aspect := float32(settings.Window.Width) / float32(max(settings.Window.Height, 1))
	orbit := camera.NewOrbitController(mgl32.Vec3{0, 0, 0}, 120, 0.6, 0.5)
	cam := camera.NewCamera(
		camera.WithPerspective(mgl32.DegToRad(60), aspect, 0.1, 2000),
		camera.WithController(orbit),
	)
	defer cam.Destroy()

	s := scene.NewScene("field", r, sys, scene.WithCameras(cam), scene.WithLogger(log))
	defer s.Dispose()

	if _, err := addCubeField(s, side); err != nil {
		return fmt.Errorf("cube field: %w", err)
	}
	if modelPath != "" {
		assets := loader.NewLoader(loader.WithLogger(log))
		if _, err := addModelRing(assets, s, modelPath, 48); err != nil {
			return fmt.Errorf("model %q: %w", modelPath, err)
		}
	}
	ground, err := addMeadow(r, s, settings.Terrain, log)
	if err != nil {
		return fmt.Errorf("meadow: %w", err)
	}
	defer ground.Release()

	options := []engine.EngineBuilderOption{
		engine.WithRenderer(r),
		engine.WithRenderingSystem(sys),
		engine.WithLogger(log),
		engine.WithScene(0, s),
		engine.WithProfiling(settings.Profiler.Enabled),
		engine.WithTickRate(60),
	}
	if win != nil {
		options = append(options, engine.WithWindow(win))
	}
	if settingsPath != "" {
		options = append(options, engine.WithSettingsPath(settingsPath))
	}
	e := engine.NewEngine(options...)

	in := &input{orbit: orbit}
	e.SetRenderCallback(func(float32) {
		in.apply()
		cam.Update()
	})

	if win == nil {
		return runHeadless(e, frames, log)
	}

	win.SetDragCallback(in.drag)
	win.SetScrollCallback(in.scroll)
	win.SetKeyDownCallback(func(key uint32) {
		next := e.RenderingSystem().Settings()
		switch key {
		case common.KeyO:
			next.OcclusionCulling = !next.OcclusionCulling
			if next.OcclusionCulling {
				next.Window.MSAA = 1
			}
		case common.KeyP:
			next.Pipeline = config.PipelineBuiltin
			if e.Adapter().Name() == config.PipelineBuiltin {
				next.Pipeline = config.PipelineScriptable
			}
		case common.KeyM:
			next.MotionVectors = !next.MotionVectors
		case common.KeyMinus:
			next.LODBias = max(next.LODBias-0.25, 0.25)
		case common.KeyEqual:
			next.LODBias += 0.25
		default:
			return
		}
		e.ApplySettings(next)
	})

	log.Info("demo started",
		zap.Int("cubes", s.Count()),
		zap.String("pipeline", e.Adapter().Name()),
		zap.String("backend", settings.Backend),
	)
	e.Run()
	return nil
}

// runHeadless renders a fixed number of frames and logs the final statistics.
func runHeadless(e engine.Engine, frames int, log *zap.Logger) error {
	var errs []error
	for range frames {
		if err := e.Frame(1.0 / 60); err != nil {
			errs = append(errs, err)
			break
		}
	}
	stats := e.RenderingSystem().Stats()
	log.Info("headless run finished",
		zap.Int("frames", frames),
		zap.Int("groups", stats.Groups),
		zap.Int("instances", stats.Instances),
		zap.Int("draw_calls", stats.DrawCalls),
		zap.Int("dispatches", stats.Dispatches),
	)
	return errors.Join(errs...)
}

// input accumulates window input on the window goroutine and applies it to the orbit
// controller on the render goroutine.
type input struct {
	mu     sync.Mutex
	orbit  camera.OrbitController
	dx, dy float32
	zoom   float32
}

func (in *input) drag(dx, dy float32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.dx += dx
	in.dy += dy
}

func (in *input) scroll(delta float32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.zoom += delta
}

func (in *input) apply() {
	in.mu.Lock()
	dx, dy, zoom := in.dx, in.dy, in.zoom
	in.dx, in.dy, in.zoom = 0, 0, 0
	in.mu.Unlock()

	if dx != 0 || dy != 0 {
		in.orbit.Orbit(-dx*0.005, dy*0.005)
	}
	if zoom != 0 {
		in.orbit.Zoom(zoom * math32.Max(in.orbit.Radius()*0.1, 1))
	}
}
