package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-instancer/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancer/engine/window"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables periodic frame statistics.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithProfiler replaces the default profiler, which logs through the engine logger at the
// settings' profiler interval.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets the engine tick rate in frames per second.
// The tick callback will be called at this rate for game logic updates.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Second / time.Duration(fps)
	}
}

// WithWindow sets the window the engine presents to and pumps messages for. Without a window
// the engine runs headless until Quit.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderer sets the renderer frames are recorded with.
//
// Parameters:
//   - r: the renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderer(r renderer.Renderer) EngineBuilderOption {
	return func(e *engine) {
		e.r = r
	}
}

// WithRenderingSystem sets the rendering system every scene registers with.
//
// Parameters:
//   - sys: the rendering system
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderingSystem(sys rendering_system.RenderingSystem) EngineBuilderOption {
	return func(e *engine) {
		e.sys = sys
	}
}

// WithAdapter overrides the adapter selected by the Pipeline setting.
//
// Parameters:
//   - a: the render pipeline adapter
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithAdapter(a render_pipeline.Adapter) EngineBuilderOption {
	return func(e *engine) {
		e.adapter = a
	}
}

// WithSettingsPath hot reloads settings from a TOML or YAML file while the engine runs.
//
// Parameters:
//   - path: the settings file
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSettingsPath(path string) EngineBuilderOption {
	return func(e *engine) {
		e.settingsPath = path
	}
}

// WithLogger sets the engine logger, shared with the default profiler and adapter.
func WithLogger(logger *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithScene registers a scene at the given z-index key during engine construction.
// Scenes are rendered in ascending key order during the render loop.
//
// Parameters:
//   - key: the z-index determining render order (lower renders first)
//   - s: the Scene to register
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(key int, s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scenes[key] = s
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Second / time.Duration(fps)
	}
}
