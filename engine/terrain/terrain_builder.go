package terrain

import (
	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// TerrainBuilderOption is a functional option applied by NewTerrain.
type TerrainBuilderOption func(*terrain)

// WithLogger sets the terrain logger.
func WithLogger(logger *zap.Logger) TerrainBuilderOption {
	return func(t *terrain) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPosition sets the world position of the terrain's minimum corner.
func WithPosition(p mgl32.Vec3) TerrainBuilderOption {
	return func(t *terrain) {
		t.position = p
	}
}

// WithSize sets the terrain extent. Non-positive sizes are ignored.
func WithSize(size mgl32.Vec3) TerrainBuilderOption {
	return func(t *terrain) {
		if size.X() > 0 && size.Y() > 0 && size.Z() > 0 {
			t.size = size
		}
	}
}

// WithHeightmap sets the normalized heights, row-major over a resolution x resolution grid.
//
// Parameters:
//   - heights: heights in [0, 1], scaled by the terrain's Y size
//   - resolution: the heightmap edge in samples
//
// Returns:
//   - TerrainBuilderOption: a function that applies the heightmap
func WithHeightmap(heights []float32, resolution int) TerrainBuilderOption {
	return func(t *terrain) {
		t.heights = heights
		t.heightResolution = resolution
	}
}

// WithHoles sets a static holes map. Texels below one half are holes.
func WithHoles(holes common.TextureStagingData) TerrainBuilderOption {
	return func(t *terrain) {
		t.holes = holes
	}
}

// WithHolesSource sets a function sampled for the holes map. It takes precedence over WithHoles
// and is called once or on every generation depending on the holes sampling mode.
func WithHolesSource(source func() common.TextureStagingData) TerrainBuilderOption {
	return func(t *terrain) {
		t.holesSource = source
	}
}

// WithHolesSampling sets the holes sampling mode: config.HolesInitialization,
// config.HolesRuntime or config.HolesNone. Unknown modes are ignored.
func WithHolesSampling(mode string) TerrainBuilderOption {
	return func(t *terrain) {
		switch mode {
		case config.HolesInitialization, config.HolesRuntime, config.HolesNone:
			t.holesSampling = mode
		}
	}
}

// WithDensityWorkers sets the number of workers resampling density maps.
func WithDensityWorkers(n int) TerrainBuilderOption {
	return func(t *terrain) {
		if n > 0 {
			t.densityWorkers = n
		}
	}
}

// WithSettings applies the terrain section of the engine settings.
func WithSettings(s config.TerrainSettings) TerrainBuilderOption {
	return func(t *terrain) {
		WithHolesSampling(s.HolesSampling)(t)
		WithDensityWorkers(s.DensityWorkers)(t)
	}
}
