package loader

import (
	"go.uber.org/zap"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithLogger is an option builder that sets the logger used by the Loader.
//
// Parameters:
//   - logger: the zap logger; nil keeps the no-op default
//
// Returns:
//   - LoaderBuilderOption: a function that applies the logger option to a loader
func WithLogger(logger *zap.Logger) LoaderBuilderOption {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPipelineKey is an option builder that sets the pipeline key assigned to every loaded
// material.
//
// Parameters:
//   - key: the render pipeline key
//
// Returns:
//   - LoaderBuilderOption: a function that applies the pipeline key option to a loader
func WithPipelineKey(key string) LoaderBuilderOption {
	return func(l *loader) {
		l.pipelineKey = key
	}
}

// WithAsset is an option builder that pre-populates the asset cache.
//
// Parameters:
//   - key: the cache key for the asset
//   - asset: the asset to cache
//
// Returns:
//   - LoaderBuilderOption: a function that applies the asset option to a loader
func WithAsset(key string, asset *Asset) LoaderBuilderOption {
	return func(l *loader) {
		l.assets[key] = asset
	}
}
