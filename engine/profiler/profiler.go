// Package profiler reports frame rate, memory and instancing statistics through the engine logger
// at a fixed interval.
package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"go.uber.org/zap"
)

// Report is one interval's worth of statistics.
type Report struct {
	FPS         float64
	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64

	// Per-frame averages of the rendering system counters.
	DrawCalls       float64
	ShadowDrawCalls float64
	Dispatches      float64
	CameraPasses    float64

	// Registration totals at the end of the interval.
	Groups    int
	Instances int
	Cameras   int
}

// Profiler tracks frame rate, memory and rendering statistics. It logs a Report whenever the
// update interval has elapsed.
type Profiler struct {
	logger         *zap.Logger
	now            func() time.Time
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	drawCalls       int
	shadowDrawCalls int
	dispatches      int
	cameraPasses    int

	last Report
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: builder options
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		logger:         zap.NewNop(),
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Tick should be called once per frame with the rendering system's statistics for that frame.
//
// Parameters:
//   - stats: the statistics of the frame that just ended
//
// Returns:
//   - bool: true if a report was logged this tick
func (p *Profiler) Tick(stats rendering_system.Stats) bool {
	p.frameCount++
	p.drawCalls += stats.DrawCalls
	p.shadowDrawCalls += stats.ShadowDrawCalls
	p.dispatches += stats.Dispatches
	p.cameraPasses += stats.CameraPasses

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	frames := float64(p.frameCount)
	r := Report{
		FPS:         frames / elapsed.Seconds(),
		HeapMB:      float64(p.memStats.Alloc) / 1024 / 1024,
		AllocRateMB: float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		SysMB:       float64(p.memStats.Sys) / 1024 / 1024,
		GCCount:     p.memStats.NumGC,

		DrawCalls:       float64(p.drawCalls) / frames,
		ShadowDrawCalls: float64(p.shadowDrawCalls) / frames,
		Dispatches:      float64(p.dispatches) / frames,
		CameraPasses:    float64(p.cameraPasses) / frames,

		Groups:    stats.Groups,
		Instances: stats.Instances,
		Cameras:   stats.Cameras,
	}
	r.LastPauseUs, r.MaxPauseUs = p.pauses()

	p.logger.Info("frame statistics",
		zap.Float64("fps", r.FPS),
		zap.Float64("heap_mb", r.HeapMB),
		zap.Float64("alloc_rate_mb_s", r.AllocRateMB),
		zap.Uint32("gc_count", r.GCCount),
		zap.Uint64("gc_last_pause_us", r.LastPauseUs),
		zap.Uint64("gc_max_pause_us", r.MaxPauseUs),
		zap.Float64("sys_mb", r.SysMB),
		zap.Float64("draw_calls", r.DrawCalls),
		zap.Float64("shadow_draw_calls", r.ShadowDrawCalls),
		zap.Float64("dispatches", r.Dispatches),
		zap.Float64("camera_passes", r.CameraPasses),
		zap.Int("groups", r.Groups),
		zap.Int("instances", r.Instances),
		zap.Int("cameras", r.Cameras),
	)

	p.last = r
	p.frameCount = 0
	p.drawCalls, p.shadowDrawCalls, p.dispatches, p.cameraPasses = 0, 0, 0, 0
	p.lastTime = currentTime
	p.lastGCCount = p.memStats.NumGC
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Last returns the most recently logged report.
func (p *Profiler) Last() Report {
	return p.last
}

// pauses returns the last GC pause and the longest pause since the previous report.
func (p *Profiler) pauses() (uint64, uint64) {
	gcCount := p.memStats.NumGC
	if gcCount == 0 {
		return 0, 0
	}
	// PauseNs is a circular buffer of the last 256 pauses
	last := p.memStats.PauseNs[(gcCount-1)%256] / 1000
	start := p.lastGCCount
	if gcCount-start > 256 {
		start = gcCount - 256
	}
	var longest uint64
	for i := start; i < gcCount; i++ {
		longest = max(longest, p.memStats.PauseNs[i%256]/1000)
	}
	return last, longest
}
