// Package window owns the GLFW window the demo presents to and forwards its input and resize
// events. GLFW calls other than RequestClose must happen on the goroutine that created the window.
package window

import (
	"fmt"
	"runtime"

	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// Window provides platform windowing and input event handling.
type Window interface {
	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for mouse scroll wheel events.
	//
	// Parameters:
	//   - callback: function receiving scroll delta (positive = up/zoom in, negative = down/zoom out)
	SetScrollCallback(callback func(delta float32))

	// SetKeyDownCallback sets the callback for key press and repeat events.
	//
	// Parameters:
	//   - callback: function receiving the key code, see common.Key*
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetKeyUpCallback sets the callback for key release events.
	//
	// Parameters:
	//   - callback: function receiving the key code, see common.Key*
	SetKeyUpCallback(callback func(keyCode uint32))

	// SetDragCallback sets the callback for cursor movement while the left or middle mouse
	// button is held.
	//
	// Parameters:
	//   - callback: function receiving the cursor delta in pixels
	SetDragCallback(callback func(dx, dy float32))

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning returns true if the window is still active.
	IsRunning() bool

	// RequestClose asks the message loop to stop. Safe to call from any goroutine.
	RequestClose()

	// Close destroys the window and terminates GLFW. It must run on the window goroutine
	// after ProcessMessages returns.
	//
	// Returns:
	//   - error: error if the window was never created or is already closed
	Close() error

	// ProcessMessages runs the window message loop.
	// Blocks until the window is closed or RequestClose is called.
	ProcessMessages()

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int

	// VSync reports whether the window was configured for vertical sync presentation.
	VSync() bool
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	logger *zap.Logger

	title string

	// Size limits applied while the user resizes.
	maxWidth, maxHeight int
	minWidth, minHeight int

	// width and height are the framebuffer size, which differs from the window size on
	// high-DPI displays.
	width  int
	height int

	vsync bool

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onUpdate  func()
	onResize  func(width, height int)
	onScroll  func(delta float32)
	onKeyDown func(keyCode uint32)
	onKeyUp   func(keyCode uint32)
	onDrag    func(dx, dy float32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a new Window. Applies default values first, then each option in
// order. Panics if the platform window cannot be created.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the window
func NewWindow(options ...WindowBuilderOption) Window {
	defaults := config.Default().Window
	w := &engineWindow{
		logger:    zap.NewNop(),
		title:     defaults.Title,
		maxWidth:  3840,
		maxHeight: 2160,
		minWidth:  320,
		minHeight: 200,
		width:     defaults.Width,
		height:    defaults.Height,
		vsync:     defaults.VSync,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		panic(fmt.Sprintf("failed to create platform window: %v", err))
	}
	w.logger.Debug("window created", zap.String("title", w.title), zap.Int("width", w.width), zap.Int("height", w.height))
	return w
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) {
	w.onScroll = callback
}

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *engineWindow) SetKeyUpCallback(callback func(keyCode uint32)) {
	w.onKeyUp = callback
}

func (w *engineWindow) SetDragCallback(callback func(dx, dy float32)) {
	w.onDrag = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) RequestClose() {
	platformRequestClose(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if succ := platformProcessMessages(w); !succ {
			break
		}

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int {
	return w.width
}

func (w *engineWindow) Height() int {
	return w.height
}

func (w *engineWindow) VSync() bool {
	return w.vsync
}
