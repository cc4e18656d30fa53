package model

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
)

// SubMesh is an index range of a Model drawn with one material.
type SubMesh struct {
	// IndexStart is the first index of the range.
	IndexStart uint32
	// IndexCount is the number of indices in the range.
	IndexCount uint32
	// BaseVertex is added to every index before fetching the vertex.
	BaseVertex int32
}

// model is the implementation of the Model interface.
type model struct {
	name                  string
	vertexData, indexData []byte
	indexCount            uint32
	subMeshes             []SubMesh
	bounds                common.Bounds
	boundsSet             bool
	buffers               *resource.MeshBuffers
}

// Model defines the interface for an indexed mesh split into submeshes.
// A Model holds its CPU-side vertex and index data until Upload places it on the GPU.
type Model interface {
	// Name retrieves the model identifier.
	//
	// Returns:
	//   - string: the model name
	Name() string

	// SubMeshes retrieves the submesh index ranges. A model built without explicit submeshes
	// has a single submesh covering every index.
	//
	// Returns:
	//   - []SubMesh: the submesh ranges
	SubMeshes() []SubMesh

	// SubMeshCount returns the number of submeshes.
	//
	// Returns:
	//   - int: the submesh count
	SubMeshCount() int

	// Bounds returns the mesh-space bounding box.
	//
	// Returns:
	//   - common.Bounds: the bounds
	Bounds() common.Bounds

	// VertexData returns the raw vertex data for this model.
	//
	// Returns:
	//   - []byte: the vertex data
	VertexData() []byte

	// IndexData returns the raw uint32 index data for this model.
	//
	// Returns:
	//   - []byte: the index data
	IndexData() []byte

	// IndexCount returns the number of indices in the model.
	//
	// Returns:
	//   - uint32: the index count
	IndexCount() uint32

	// Buffers returns the GPU mesh buffers, or nil before Upload.
	//
	// Returns:
	//   - *resource.MeshBuffers: the uploaded buffers
	Buffers() *resource.MeshBuffers

	// Upload creates the GPU vertex and index buffers. Uploading twice is a no-op.
	//
	// Parameters:
	//   - r: the renderer that owns the buffers
	//
	// Returns:
	//   - error: an error if the renderer rejects the buffers
	Upload(r renderer.Renderer) error

	// Release frees the GPU buffers. Safe to call on a model that was never uploaded.
	//
	// Parameters:
	//   - r: the renderer that owns the buffers
	Release(r renderer.Renderer)
}

var _ Model = &model{}

// NewModel creates a new Model instance with the specified options applied.
//
// Parameters:
//   - options: a variadic list of ModelBuilderOption functions to configure the Model
//
// Returns:
//   - Model: a new instance of Model configured with the provided options
func NewModel(options ...ModelBuilderOption) Model {
	m := &model{}
	for _, opt := range options {
		opt(m)
	}
	if m.indexCount == 0 {
		m.indexCount = uint32(len(m.indexData) / 4)
	}
	if len(m.subMeshes) == 0 {
		m.subMeshes = []SubMesh{{IndexStart: 0, IndexCount: m.indexCount}}
	}
	if !m.boundsSet {
		m.bounds = boundsFromVertexData(m.vertexData)
	}
	return m
}

func (m *model) Name() string {
	return m.name
}

func (m *model) SubMeshes() []SubMesh {
	return m.subMeshes
}

func (m *model) SubMeshCount() int {
	return len(m.subMeshes)
}

func (m *model) Bounds() common.Bounds {
	return m.bounds
}

func (m *model) VertexData() []byte {
	return m.vertexData
}

func (m *model) IndexData() []byte {
	return m.indexData
}

func (m *model) IndexCount() uint32 {
	return m.indexCount
}

func (m *model) Buffers() *resource.MeshBuffers {
	return m.buffers
}

func (m *model) Upload(r renderer.Renderer) error {
	if m.buffers.Valid() {
		return nil
	}
	buffers, err := r.UploadMesh(m.name, m.vertexData, m.indexData)
	if err != nil {
		return fmt.Errorf("upload model %q: %w", m.name, err)
	}
	m.buffers = buffers
	return nil
}

func (m *model) Release(r renderer.Renderer) {
	if m.buffers == nil {
		return
	}
	r.ReleaseMesh(m.buffers)
	m.buffers = nil
}

// boundsFromVertexData computes the bounding box of tightly packed GPUVertex data.
func boundsFromVertexData(data []byte) common.Bounds {
	if len(data) < VertexStride {
		return common.Bounds{}
	}
	floats := common.BytesToFloat32s(data)
	const stride = VertexStride / 4
	minP := mgl32.Vec3{floats[0], floats[1], floats[2]}
	maxP := minP
	for i := stride; i+2 < len(floats); i += stride {
		for a := 0; a < 3; a++ {
			minP[a] = min(minP[a], floats[i+a])
			maxP[a] = max(maxP[a], floats[i+a])
		}
	}
	return common.NewBoundsMinMax(minP, maxP)
}
