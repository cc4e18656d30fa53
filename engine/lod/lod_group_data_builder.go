package lod

// LODGroupDataBuilderOption is a functional option applied by NewLODGroupData.
type LODGroupDataBuilderOption func(*lodGroupData)

// WithLevel appends a level. Levels are validated after every option applies.
//
// Parameters:
//   - transitionDistance: the camera distance up to which the level is selected
//   - renderers: the level's renderers
//
// Returns:
//   - LODGroupDataBuilderOption: a function that appends the level
func WithLevel(transitionDistance float32, renderers ...RendererDescriptor) LODGroupDataBuilderOption {
	return func(d *lodGroupData) {
		d.levels = append(d.levels, Level{Renderers: renderers, TransitionDistance: transitionDistance})
	}
}

// WithLevels appends prebuilt levels.
func WithLevels(levels ...Level) LODGroupDataBuilderOption {
	return func(d *lodGroupData) {
		d.levels = append(d.levels, levels...)
	}
}
