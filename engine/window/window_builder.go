package window

import (
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"go.uber.org/zap"
)

// WindowBuilderOption is a functional option for configuring an engineWindow.
// Use the With* functions to create options.
type WindowBuilderOption func(w *engineWindow)

// WithSettings applies the window section of the settings file. Zero values keep the defaults.
//
// Parameters:
//   - s: the window settings
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSettings(s config.WindowSettings) WindowBuilderOption {
	return func(w *engineWindow) {
		if s.Title != "" {
			w.title = s.Title
		}
		if s.Width > 0 {
			w.width = s.Width
		}
		if s.Height > 0 {
			w.height = s.Height
		}
		w.vsync = s.VSync
	}
}

// WithTitle sets the window title displayed in the title bar.
//
// Parameters:
//   - title: the window title text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSizeLimits bounds the size the user can resize the window to.
//
// Parameters:
//   - minWidth, minHeight: the minimum size in screen coordinates
//   - maxWidth, maxHeight: the maximum size in screen coordinates
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSizeLimits(minWidth, minHeight, maxWidth, maxHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.minWidth, w.minHeight = minWidth, minHeight
		w.maxWidth, w.maxHeight = maxWidth, maxHeight
	}
}

// WithSize sets the initial window size.
//
// Parameters:
//   - width: initial width in pixels
//   - height: initial height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.width, w.height = width, height
	}
}

// WithLogger sets the window logger.
func WithLogger(logger *zap.Logger) WindowBuilderOption {
	return func(w *engineWindow) {
		if logger != nil {
			w.logger = logger
		}
	}
}
