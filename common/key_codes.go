package common

// Key codes delivered by window key callbacks.
// These values match GLFW key codes which use ASCII values for printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyC     = 67  // C key (ASCII)
	KeyL     = 76  // L key (ASCII)
	KeyM     = 77  // M key (ASCII)
	KeyO     = 79  // O key (ASCII)
	KeyP     = 80  // P key (ASCII)
	KeyR     = 82  // R key (ASCII)
	KeySpace = 32  // Spacebar (ASCII)
	KeyEsc   = 256 // Escape key (GLFW)

	KeyMinus = 45 // - key (ASCII)
	KeyEqual = 61 // = key (ASCII)
)
