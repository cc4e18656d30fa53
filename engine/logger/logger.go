// Package logger builds the zap logger shared by the engine.
package logger

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production or development logger at the configured level.
//
// Parameters:
//   - s: the logging settings
//
// Returns:
//   - *zap.Logger: the logger
//   - error: an error if the level is unknown or the logger cannot be built
func New(s config.LoggingSettings) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s.Level != "" {
		if err := level.UnmarshalText([]byte(s.Level)); err != nil {
			return nil, fmt.Errorf("logger: level %q: %w", s.Level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
