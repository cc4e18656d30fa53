package render_pipeline

import "go.uber.org/zap"

// AdapterBuilderOption is a functional option applied by the adapter constructors.
type AdapterBuilderOption func(*adapterBase)

// WithLogger sets the logger handler failures are reported to.
func WithLogger(logger *zap.Logger) AdapterBuilderOption {
	return func(b *adapterBase) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHandler registers a handler at construction.
func WithHandler(handler CameraHandler) AdapterBuilderOption {
	return func(b *adapterBase) {
		b.handler = handler
	}
}
