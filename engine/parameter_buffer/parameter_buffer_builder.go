package parameter_buffer

import "go.uber.org/zap"

// ParameterBufferBuilderOption is a functional option applied by NewParameterBuffer.
type ParameterBufferBuilderOption func(*parameterBuffer)

// WithLabel sets the debug label of the GPU buffer.
func WithLabel(label string) ParameterBufferBuilderOption {
	return func(p *parameterBuffer) {
		p.label = label
	}
}

// WithLogger sets the logger used to report buffer growth.
func WithLogger(logger *zap.Logger) ParameterBufferBuilderOption {
	return func(p *parameterBuffer) {
		if logger != nil {
			p.logger = logger
		}
	}
}
