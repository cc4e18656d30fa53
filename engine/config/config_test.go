package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDecode_TOML(t *testing.T) {
	s, err := Decode([]byte(`
max_buffer_size = 4096
lod_bias = 2.0
pipeline = "builtin"

[terrain]
holes_sampling = "runtime"

[window]
msaa = 1
`), ".toml")
	require.NoError(t, err)
	assert.Equal(t, 4096, s.MaxBufferSize)
	assert.Equal(t, float32(2), s.LODBias)
	assert.Equal(t, PipelineBuiltin, s.Pipeline)
	assert.Equal(t, HolesRuntime, s.Terrain.HolesSampling)
	assert.Equal(t, 4, s.Terrain.DensityWorkers, "unset fields keep defaults")
}

func TestDecode_YAML(t *testing.T) {
	s, err := Decode([]byte("occlusion_culling: true\nwindow:\n  msaa: 1\nprofiler:\n  enabled: true\n  interval: 250ms\n"), ".yml")
	require.NoError(t, err)
	assert.True(t, s.OcclusionCulling)
	assert.True(t, s.Profiler.Enabled)
	assert.Equal(t, 250*time.Millisecond, s.Profiler.IntervalDuration())
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte("{}"), ".json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode([]byte("max_buffer_size = -1"), ".toml")
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = Decode([]byte("occlusion_culling: true\n"), ".yaml")
	assert.ErrorIs(t, err, ErrInvalidSettings, "occlusion needs msaa off")

	_, err = Decode([]byte("max_buffer_size = ["), ".toml")
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"settings.toml", "settings.yaml"} {
		path := filepath.Join(dir, name)
		want := Default()
		want.MaxBufferSize = 77
		require.NoError(t, Save(path, want))
		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_buffer_size = 10\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Settings, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(s Settings) { changes <- s })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_buffer_size = 20\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case s := <-changes:
			reloaded = s.MaxBufferSize == 20
		case <-deadline:
			t.Fatal("no reload")
		}
	}
	cancel()
	assert.NoError(t, <-done)
}
