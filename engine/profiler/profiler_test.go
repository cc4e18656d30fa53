package profiler

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestProfiler_ReportsAtInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithLogger(zap.New(core)), WithInterval(time.Second), WithClock(clock.now))

	frame := rendering_system.Stats{DrawCalls: 4, ShadowDrawCalls: 2, Dispatches: 1, CameraPasses: 1, Groups: 3, Instances: 500}
	for range 3 {
		clock.t = clock.t.Add(250 * time.Millisecond)
		assert.False(t, p.Tick(frame))
	}
	clock.t = clock.t.Add(250 * time.Millisecond)
	frame.DrawCalls = 8
	require.True(t, p.Tick(frame))

	r := p.Last()
	assert.InDelta(t, 4, r.FPS, 0.001)
	assert.InDelta(t, 5, r.DrawCalls, 0.001, "averaged over the interval")
	assert.InDelta(t, 2, r.ShadowDrawCalls, 0.001)
	assert.Equal(t, 500, r.Instances)

	entries := logs.FilterMessage("frame statistics").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["groups"])

	clock.t = clock.t.Add(100 * time.Millisecond)
	assert.False(t, p.Tick(frame), "counters restart after a report")
}

func TestProfiler_IgnoresBadInterval(t *testing.T) {
	p := NewProfiler(WithInterval(-time.Second))
	assert.Equal(t, time.Second, p.updateInterval)
}
