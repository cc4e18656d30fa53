// Package config holds the instancer settings, loaded from TOML or YAML by file extension and
// optionally hot reloaded.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Pipeline names.
const (
	PipelineBuiltin    = "builtin"
	PipelineScriptable = "scriptable"
)

// Backend names.
const (
	BackendWGPU     = "wgpu"
	BackendHeadless = "headless"
)

// Terrain holes sampling modes.
const (
	HolesInitialization = "initialization"
	HolesRuntime        = "runtime"
	HolesNone           = "none"
)

var (
	// ErrUnsupportedFormat is returned for settings files that are neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("config: unsupported settings format")
	// ErrInvalidSettings is returned when a settings value is out of range.
	ErrInvalidSettings = errors.New("config: invalid settings")
)

// TerrainSettings configures the vegetation generator.
type TerrainSettings struct {
	ViewDistance   float32 `toml:"view_distance" yaml:"view_distance"`
	HolesSampling  string  `toml:"holes_sampling" yaml:"holes_sampling"`
	DensityWorkers int     `toml:"density_workers" yaml:"density_workers"`
}

// LoggingSettings configures the zap logger.
type LoggingSettings struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

// ProfilerSettings configures periodic frame statistics.
type ProfilerSettings struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Interval string `toml:"interval" yaml:"interval"`
}

// IntervalDuration parses Interval, falling back to one second.
func (p ProfilerSettings) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// WindowSettings configures the demo window and surface.
type WindowSettings struct {
	Width  int    `toml:"width" yaml:"width"`
	Height int    `toml:"height" yaml:"height"`
	Title  string `toml:"title" yaml:"title"`
	VSync  bool   `toml:"vsync" yaml:"vsync"`
	MSAA   int    `toml:"msaa" yaml:"msaa"`
}

// Settings is the complete instancer configuration.
type Settings struct {
	// MaxBufferSize caps the transform slots of a single render source.
	MaxBufferSize int `toml:"max_buffer_size" yaml:"max_buffer_size"`
	// MaximumLODLevel is the system wide finest LOD, combined with each profile's by max.
	MaximumLODLevel int `toml:"maximum_lod_level" yaml:"maximum_lod_level"`
	// LODBias multiplies every profile's LOD bias.
	LODBias float32 `toml:"lod_bias" yaml:"lod_bias"`
	// OcclusionCulling enables the Hi-Z test. It requires MSAA off.
	OcclusionCulling bool `toml:"occlusion_culling" yaml:"occlusion_culling"`
	// MotionVectors allocates previous-frame transform buffers.
	MotionVectors bool `toml:"motion_vectors" yaml:"motion_vectors"`
	// AutoRegisterCameras registers game, scene view and reflection cameras on first sight.
	AutoRegisterCameras bool `toml:"auto_register_cameras" yaml:"auto_register_cameras"`
	// Pipeline selects the render pipeline adapter.
	Pipeline string `toml:"pipeline" yaml:"pipeline"`
	// Backend selects the renderer backend.
	Backend string `toml:"backend" yaml:"backend"`

	Terrain  TerrainSettings  `toml:"terrain" yaml:"terrain"`
	Logging  LoggingSettings  `toml:"logging" yaml:"logging"`
	Profiler ProfilerSettings `toml:"profiler" yaml:"profiler"`
	Window   WindowSettings   `toml:"window" yaml:"window"`
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		MaxBufferSize:       1 << 20,
		MaximumLODLevel:     0,
		LODBias:             1,
		AutoRegisterCameras: true,
		Pipeline:            PipelineScriptable,
		Backend:             BackendWGPU,
		Terrain: TerrainSettings{
			ViewDistance:   250,
			HolesSampling:  HolesInitialization,
			DensityWorkers: 4,
		},
		Logging:  LoggingSettings{Level: "info"},
		Profiler: ProfilerSettings{Interval: "1s"},
		Window:   WindowSettings{Width: 1280, Height: 720, Title: "oxy-instancer", VSync: true, MSAA: 4},
	}
}

// Validate checks value ranges and enumerations.
//
// Returns:
//   - error: a wrapped ErrInvalidSettings naming the first invalid field, or nil
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalidSettings)...))
		}
	}
	check(s.MaxBufferSize > 0, "max_buffer_size %d", s.MaxBufferSize)
	check(s.MaximumLODLevel >= 0 && s.MaximumLODLevel < 8, "maximum_lod_level %d", s.MaximumLODLevel)
	check(s.LODBias > 0, "lod_bias %.2f", s.LODBias)
	check(s.Pipeline == PipelineBuiltin || s.Pipeline == PipelineScriptable, "pipeline %q", s.Pipeline)
	check(s.Backend == BackendWGPU || s.Backend == BackendHeadless, "backend %q", s.Backend)
	check(s.Terrain.ViewDistance >= 0, "terrain.view_distance %.2f", s.Terrain.ViewDistance)
	check(s.Terrain.DensityWorkers > 0, "terrain.density_workers %d", s.Terrain.DensityWorkers)
	switch s.Terrain.HolesSampling {
	case HolesInitialization, HolesRuntime, HolesNone:
	default:
		check(false, "terrain.holes_sampling %q", s.Terrain.HolesSampling)
	}
	switch s.Window.MSAA {
	case 1, 4, 8, 16:
	default:
		check(false, "window.msaa %d", s.Window.MSAA)
	}
	if s.OcclusionCulling && s.Window.MSAA != 1 {
		check(false, "occlusion_culling requires window.msaa 1, got %d", s.Window.MSAA)
	}
	return errors.Join(errs...)
}

// Load reads settings from a TOML or YAML file chosen by extension. Missing fields keep their
// default values.
//
// Parameters:
//   - path: the settings file
//
// Returns:
//   - Settings: the loaded settings
//   - error: an error if the file cannot be read, decoded or validated
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses settings data in the format named by ext (".toml", ".yaml" or ".yml").
//
// Parameters:
//   - data: the file contents
//   - ext: the file extension
//
// Returns:
//   - Settings: the decoded settings over the defaults
//   - error: an error if decoding or validation fails
func Decode(data []byte, ext string) (Settings, error) {
	s := Default()
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("config: decode toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("%q: %w", ext, ErrUnsupportedFormat)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save writes settings in the format named by the path's extension.
//
// Parameters:
//   - path: the destination file
//   - s: the settings
//
// Returns:
//   - error: an error if encoding or writing fails
func Save(path string, s Settings) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		data, err = toml.Marshal(s)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(s)
	default:
		return fmt.Errorf("%q: %w", filepath.Ext(path), ErrUnsupportedFormat)
	}
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
