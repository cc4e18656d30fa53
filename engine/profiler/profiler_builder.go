package profiler

import (
	"time"

	"go.uber.org/zap"
)

// ProfilerBuilderOption is a functional option applied by NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithLogger sets the logger reports are written to.
func WithLogger(logger *zap.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithInterval sets the report interval. Non-positive intervals are ignored.
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		if now != nil {
			p.now = now
		}
	}
}
