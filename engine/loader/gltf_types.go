// gltf_types.go contains the subset of the glTF 2.0 JSON schema the prototype loader reads.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html
package loader

// gltfDocument represents the root of a glTF JSON document.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-gltf
type gltfDocument struct {
	Asset       gltfAsset        `json:"asset"`
	Scene       *int             `json:"scene,omitempty"`
	Scenes      []gltfScene      `json:"scenes,omitempty"`
	Nodes       []gltfNode       `json:"nodes,omitempty"`
	Meshes      []gltfMesh       `json:"meshes,omitempty"`
	Accessors   []gltfAccessor   `json:"accessors,omitempty"`
	BufferViews []gltfBufferView `json:"bufferViews,omitempty"`
	Buffers     []gltfBuffer     `json:"buffers,omitempty"`
	Materials   []gltfMaterial   `json:"materials,omitempty"`
}

// gltfAsset contains metadata about the glTF asset.
type gltfAsset struct {
	// Version is the glTF version (required, must be "2.0").
	Version   string `json:"version"`
	Generator string `json:"generator,omitempty"`
}

// gltfScene lists the root nodes of a scene.
type gltfScene struct {
	Name  string `json:"name,omitempty"`
	Nodes []int  `json:"nodes,omitempty"`
}

// gltfNode is a node in the node hierarchy.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-node
type gltfNode struct {
	Name     string `json:"name,omitempty"`
	Children []int  `json:"children,omitempty"`
	Mesh     *int   `json:"mesh,omitempty"`

	// Matrix is a column-major 4x4 matrix. When present it replaces translation, rotation
	// and scale.
	Matrix      *[16]float32 `json:"matrix,omitempty"`
	Translation *[3]float32  `json:"translation,omitempty"`
	// Rotation is a unit quaternion (x, y, z, w).
	Rotation *[4]float32 `json:"rotation,omitempty"`
	Scale    *[3]float32 `json:"scale,omitempty"`
}

// gltfMesh is a set of primitives to be rendered.
type gltfMesh struct {
	Name       string          `json:"name,omitempty"`
	Primitives []gltfPrimitive `json:"primitives"`
}

// gltfPrimitive defines geometry for rendering.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-mesh-primitive
type gltfPrimitive struct {
	// Attributes maps POSITION, NORMAL, TEXCOORD_0 and COLOR_0 to accessor indices.
	Attributes map[string]int `json:"attributes"`
	Indices    *int           `json:"indices,omitempty"`
	Material   *int           `json:"material,omitempty"`
	// Mode is the primitive topology, TRIANGLES when absent.
	Mode *int `json:"mode,omitempty"`
}

const gltfPrimitiveModeTriangles = 4

// gltfAccessor defines how to interpret buffer data.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-accessor
type gltfAccessor struct {
	BufferView    *int   `json:"bufferView,omitempty"`
	ByteOffset    int    `json:"byteOffset,omitempty"`
	ComponentType int    `json:"componentType"`
	Normalized    bool   `json:"normalized,omitempty"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	// Sparse is only decoded to reject sparse accessors.
	Sparse *struct {
		Count int `json:"count"`
	} `json:"sparse,omitempty"`
}

// ComponentType constants
const (
	gltfComponentTypeByte          = 5120
	gltfComponentTypeUnsignedByte  = 5121
	gltfComponentTypeShort         = 5122
	gltfComponentTypeUnsignedShort = 5123
	gltfComponentTypeUnsignedInt   = 5125
	gltfComponentTypeFloat         = 5126
)

// AccessorType constants
const (
	gltfAccessorTypeScalar = "SCALAR"
	gltfAccessorTypeVec2   = "VEC2"
	gltfAccessorTypeVec3   = "VEC3"
	gltfAccessorTypeVec4   = "VEC4"
)

// gltfBufferView represents a subset of a buffer.
type gltfBufferView struct {
	Buffer     int  `json:"buffer"`
	ByteOffset int  `json:"byteOffset,omitempty"`
	ByteLength int  `json:"byteLength"`
	ByteStride *int `json:"byteStride,omitempty"`
}

// gltfBuffer represents binary data.
type gltfBuffer struct {
	// URI is a data: URI or a path relative to the document.
	URI        string `json:"uri,omitempty"`
	ByteLength int    `json:"byteLength"`

	// Data holds the loaded binary data (not part of JSON, populated during load).
	Data []byte `json:"-"`
}

// gltfMaterial defines the material appearance of a primitive.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-material
type gltfMaterial struct {
	Name                 string                    `json:"name,omitempty"`
	PbrMetallicRoughness *gltfPbrMetallicRoughness `json:"pbrMetallicRoughness,omitempty"`
	// AlphaMode is OPAQUE (default), MASK or BLEND.
	AlphaMode   string   `json:"alphaMode,omitempty"`
	AlphaCutoff *float32 `json:"alphaCutoff,omitempty"`
}

// gltfPbrMetallicRoughness is the metallic-roughness material model. Only the base color
// factor is used.
type gltfPbrMetallicRoughness struct {
	BaseColorFactor *[4]float32 `json:"baseColorFactor,omitempty"`
}

// gltfGLBHeader is the 12-byte header of a GLB file.
type gltfGLBHeader struct {
	Magic   uint32
	Version uint32
	Length  uint32
}

// gltfGLBChunkHeader precedes every GLB chunk.
type gltfGLBChunkHeader struct {
	ChunkLength uint32
	ChunkType   uint32
}

// GLB magic number and chunk type constants
const (
	gltfGLBMagic     = 0x46546C67 // "glTF" in little-endian ASCII
	gltfGLBVersion   = 2
	gltfGLBChunkJSON = 0x4E4F534A // "JSON" in little-endian ASCII
	gltfGLBChunkBIN  = 0x004E4942 // "BIN\0" in little-endian ASCII
)
