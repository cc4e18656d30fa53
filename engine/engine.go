// Package engine drives frames: it prepares every active scene, renders each scene camera through
// the configured render pipeline adapter and presents, while a separate goroutine ticks game logic
// at a fixed rate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancer/engine/window"
	"go.uber.org/zap"
)

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates
	settingsChannel chan config.Settings

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window  window.Window
	r       renderer.Renderer
	sys     rendering_system.RenderingSystem
	adapter render_pipeline.Adapter
	logger  *zap.Logger

	profiler         *profiler.Profiler
	profilingEnabled bool

	settingsPath string

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	scenesMu sync.RWMutex
	scenes   map[int]scene.Scene

	frame            int64
	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It orchestrates the engine loop, render loop, and window management.
type Engine interface {
	// Window returns the underlying window, or nil when running headless.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the renderer frames are recorded with.
	Renderer() renderer.Renderer

	// RenderingSystem returns the rendering system cameras are processed by.
	RenderingSystem() rendering_system.RenderingSystem

	// Adapter returns the render pipeline adapter currently driving cameras.
	Adapter() render_pipeline.Adapter

	// EnableProfiler enables periodic frame statistics in the log.
	EnableProfiler()

	// DisableProfiler disables periodic frame statistics.
	DisableProfiler()

	// Profiler returns the frame profiler.
	Profiler() *profiler.Profiler

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick, after active scenes
	// have been updated.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called at the end of each render frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// ApplySettings queues new settings for the render goroutine. Only the latest queued
	// settings are applied, at the start of the next frame.
	//
	// Parameters:
	//   - s: the settings
	ApplySettings(s config.Settings)

	// AddScene registers a scene at the given z-index key.
	// Scenes are prepared and rendered in ascending key order.
	//
	// Parameters:
	//   - key: the z-index determining render order (lower renders first)
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given z-index key.
	//
	// Parameters:
	//   - key: the z-index of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given z-index key.
	// Returns nil if no scene exists at that key.
	//
	// Parameters:
	//   - key: the z-index of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes keyed by z-index.
	//
	// Returns:
	//   - map[int]scene.Scene: a copy of the scenes map
	Scenes() map[int]scene.Scene

	// Frame renders one frame: pending settings are applied, active scenes prepare their
	// compute work and every scene camera is processed through the adapter. Run calls it
	// from the render goroutine; headless callers may call it directly.
	//
	// Parameters:
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: joined scene, camera and frame errors
	Frame(deltaTime float32) error

	// Run starts the engine loops and blocks until the window closes or Quit is called.
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options. The renderer and the
// rendering system are required and NewEngine panics without them. Without WithAdapter the adapter
// is selected by the rendering system's Pipeline setting.
//
// Parameters:
//   - options: functional options for engine configuration (profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:  make(chan time.Duration, 1),
		settingsChannel:  make(chan config.Settings, 1),
		quitChannel:      make(chan struct{}),
		scenes:           make(map[int]scene.Scene),
		logger:           zap.NewNop(),
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.r == nil {
		panic("engine: NewEngine requires a Renderer")
	}
	if e.sys == nil {
		panic("engine: NewEngine requires a RenderingSystem")
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(
			profiler.WithLogger(e.logger),
			profiler.WithInterval(e.sys.Settings().Profiler.IntervalDuration()),
		)
	}
	if e.adapter == nil {
		e.adapter = e.newAdapter(e.sys.Settings().Pipeline)
	}
	e.adapter.RegisterCameraCallbacks(e.sys)

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			e.r.Resize(width, height)
			if height <= 0 {
				return
			}
			for _, s := range e.activeScenes() {
				for _, c := range s.Cameras() {
					c.SetAspect(float32(width) / float32(height))
				}
			}
		})
	}

	return e
}

// newAdapter selects an adapter by pipeline name, falling back to the scriptable adapter.
func (e *engine) newAdapter(name string) render_pipeline.Adapter {
	a, err := render_pipeline.NewAdapter(name, render_pipeline.WithLogger(e.logger))
	if err != nil {
		e.logger.Warn("falling back to the scriptable pipeline", zap.Error(err))
		return render_pipeline.NewScriptableAdapter(render_pipeline.WithLogger(e.logger))
	}
	return a
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.r
}

func (e *engine) RenderingSystem() rendering_system.RenderingSystem {
	return e.sys
}

func (e *engine) Adapter() render_pipeline.Adapter {
	return e.adapter
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

func (e *engine) Run() {
	e.running = true
	e.handle()
	if e.window == nil {
		e.wg.Wait()
		return
	}
	e.window.ProcessMessages()
	e.signalQuit()
	e.wg.Wait()
	if err := e.window.Close(); err != nil {
		e.logger.Debug("window close", zap.Error(err))
	}
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
	if e.window != nil {
		e.window.RequestClose()
	}
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the engine, render, and quit goroutines, plus the settings watcher when a
// settings path is configured. Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleQuit()

	if e.settingsPath != "" {
		e.wg.Add(1)
		go e.handleSettings()
	}
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Updates active scenes and fires the tick callback at the configured tick rate, and listens for
// dynamic rate changes via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			for _, s := range e.activeScenes() {
				s.Update(dt)
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("render goroutine recovered from panic", zap.Any("panic", r))
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			if err := e.Frame(dt); err != nil {
				e.logger.Error("frame failed", zap.Int64("frame", e.frame), zap.Error(err))
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

// handleSettings watches the settings file until quit and queues every valid change.
func (e *engine) handleSettings() {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.quitChannel
		cancel()
	}()

	if err := config.Watch(ctx, e.settingsPath, e.logger, e.ApplySettings); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("settings watcher stopped", zap.String("path", e.settingsPath), zap.Error(err))
	}
}

func (e *engine) Frame(deltaTime float32) error {
	var errs []error
	if err := e.applyPendingSettings(); err != nil {
		errs = append(errs, err)
	}

	scenes := e.activeScenes()
	for _, s := range scenes {
		if err := s.PrepareCompute(); err != nil {
			errs = append(errs, fmt.Errorf("scene %s: %w", s.Name(), err))
		}
	}

	var cameras []camera.Camera
	for _, s := range scenes {
		cameras = append(cameras, s.Cameras()...)
	}

	if err := e.r.BeginFrame(); err != nil {
		return errors.Join(append(errs, fmt.Errorf("begin frame: %w", err))...)
	}
	e.frame++
	for _, c := range cameras {
		if err := e.adapter.BeginCamera(c, e.frame); err != nil {
			errs = append(errs, err)
		}
	}
	e.r.EndFrame()
	for _, c := range cameras {
		if err := e.adapter.EndCamera(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.adapter.EndFrame(); err != nil {
		errs = append(errs, err)
	}
	e.r.Present()

	if err := e.sys.OnFrameEnd(); err != nil {
		errs = append(errs, err)
	}
	if e.profilingEnabled {
		e.profiler.Tick(e.sys.Stats())
	}
	if e.renderCallback != nil {
		e.renderCallback(deltaTime)
	}
	return errors.Join(errs...)
}

// applyPendingSettings applies the latest queued settings and swaps the adapter when the
// pipeline changed.
func (e *engine) applyPendingSettings() error {
	var s config.Settings
	select {
	case s = <-e.settingsChannel:
	default:
		return nil
	}

	previous := e.sys.Settings()
	if err := e.sys.ApplySettings(s); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	if s.Pipeline != previous.Pipeline {
		e.adapter.UnregisterCameraCallbacks()
		e.adapter = e.newAdapter(s.Pipeline)
		e.adapter.RegisterCameraCallbacks(e.sys)
	}
	e.profilingEnabled = s.Profiler.Enabled
	e.logger.Info("settings applied", zap.String("pipeline", e.adapter.Name()))
	return nil
}

// activeScenes returns the active scenes in ascending z-index order.
func (e *engine) activeScenes() []scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	var out []scene.Scene
	for _, k := range slices.Sorted(maps.Keys(e.scenes)) {
		if s := e.scenes[k]; s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// EnableProfiler enables periodic frame statistics in the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables periodic frame statistics.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

func (e *engine) ApplySettings(s config.Settings) {
	// Replace any pending value so the render goroutine only sees the latest settings.
	for {
		select {
		case e.settingsChannel <- s:
			return
		default:
			select {
			case <-e.settingsChannel:
			default:
			}
		}
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	return e.scenes[key]
}

func (e *engine) Scenes() map[int]scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	return maps.Clone(e.scenes)
}
