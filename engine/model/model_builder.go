package model

import (
	"github.com/Carmen-Shannon/oxy-instancer/common"
)

// ModelBuilderOption is a functional option for configuring a Model via NewModel.
type ModelBuilderOption func(*model)

// WithName is an option builder that sets the name of the Model.
//
// Parameters:
//   - name: the model identifier
//
// Returns:
//   - ModelBuilderOption: a function that applies the name option to a model
func WithName(name string) ModelBuilderOption {
	return func(m *model) {
		m.name = name
	}
}

// WithVertices is an option builder that packs vertices into the Model's vertex data.
//
// Parameters:
//   - vertices: the mesh vertices
//
// Returns:
//   - ModelBuilderOption: a function that applies the vertex data to a model
func WithVertices(vertices []GPUVertex) ModelBuilderOption {
	return func(m *model) {
		m.vertexData = MarshalVertices(vertices)
	}
}

// WithIndices is an option builder that sets the Model's uint32 index list.
//
// Parameters:
//   - indices: the triangle indices
//
// Returns:
//   - ModelBuilderOption: a function that applies the index data to a model
func WithIndices(indices []uint32) ModelBuilderOption {
	return func(m *model) {
		m.indexData = common.Uint32sToBytes(indices)
		m.indexCount = uint32(len(indices))
	}
}

// WithSubMeshes is an option builder that splits the Model's indices into submeshes.
// Each submesh is drawn with its own material.
//
// Parameters:
//   - subMeshes: the index ranges, in material order
//
// Returns:
//   - ModelBuilderOption: a function that applies the submesh option to a model
func WithSubMeshes(subMeshes ...SubMesh) ModelBuilderOption {
	return func(m *model) {
		m.subMeshes = append([]SubMesh(nil), subMeshes...)
	}
}

// WithBounds is an option builder that overrides the bounds computed from the vertex data.
//
// Parameters:
//   - bounds: the mesh-space bounding box
//
// Returns:
//   - ModelBuilderOption: a function that applies the bounds option to a model
func WithBounds(bounds common.Bounds) ModelBuilderOption {
	return func(m *model) {
		m.bounds = bounds
		m.boundsSet = true
	}
}
