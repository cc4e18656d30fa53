package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// triangleBuffer holds three float positions, three uint16 indices (padded to 8 bytes) and
// three normalized RGBA8 colors.
func triangleBuffer() []byte {
	var buf bytes.Buffer
	for _, f := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
	}
	for _, i := range []uint16{0, 1, 2, 0} {
		_ = binary.Write(&buf, binary.LittleEndian, i)
	}
	buf.Write([]byte{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 128})
	return buf.Bytes()
}

// triangleDocument describes a parent node translated by +1 on X with a child scaled by 2 that
// draws the triangle twice: once with a masked material and vertex colors, once with the
// default material.
func triangleDocument(bufferJSON string) string {
	return `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [
    {"name": "root", "translation": [1, 0, 0], "children": [1]},
    {"name": "tri", "scale": [2, 2, 2], "mesh": 0}
  ],
  "meshes": [{"primitives": [
    {"attributes": {"POSITION": 0, "COLOR_0": 2}, "indices": 1, "material": 0},
    {"attributes": {"POSITION": 0}, "indices": 1}
  ]}],
  "materials": [{"name": "leaf", "pbrMetallicRoughness": {"baseColorFactor": [0.2, 0.4, 0.6, 1]}, "alphaMode": "MASK", "alphaCutoff": 0.3}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"},
    {"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"},
    {"bufferView": 2, "componentType": 5121, "normalized": true, "count": 3, "type": "VEC4"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 36},
    {"buffer": 0, "byteOffset": 36, "byteLength": 6},
    {"buffer": 0, "byteOffset": 44, "byteLength": 12}
  ],
  "buffers": [` + bufferJSON + `]
}`
}

func embeddedDocument() string {
	data := triangleBuffer()
	return triangleDocument(fmt.Sprintf(`{"byteLength": %d, "uri": "data:application/octet-stream;base64,%s"}`,
		len(data), base64.StdEncoding.EncodeToString(data)))
}

func glbDocument() []byte {
	data := triangleBuffer()
	jsonChunk := []byte(triangleDocument(fmt.Sprintf(`{"byteLength": %d}`, len(data))))
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}

	var out bytes.Buffer
	total := 12 + 8 + len(jsonChunk) + 8 + len(data)
	_ = binary.Write(&out, binary.LittleEndian, gltfGLBHeader{Magic: gltfGLBMagic, Version: gltfGLBVersion, Length: uint32(total)})
	_ = binary.Write(&out, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(jsonChunk)), ChunkType: gltfGLBChunkJSON})
	out.Write(jsonChunk)
	_ = binary.Write(&out, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(data)), ChunkType: gltfGLBChunkBIN})
	out.Write(data)
	return out.Bytes()
}

func assertTriangleAsset(t *testing.T, a *Asset) {
	t.Helper()
	require.NotNil(t, a.Mesh)
	subs := a.Mesh.SubMeshes()
	require.Len(t, subs, 2)
	assert.Equal(t, uint32(0), subs[0].IndexStart)
	assert.Equal(t, uint32(3), subs[1].IndexStart)
	assert.Equal(t, int32(0), subs[0].BaseVertex)
	assert.Equal(t, int32(3), subs[1].BaseVertex)
	assert.Equal(t, uint32(6), a.Mesh.IndexCount())

	floats := common.BytesToFloat32s(a.Mesh.VertexData())
	require.Len(t, floats, 6*12)
	// Vertex 1 at (1,0,0) scaled by 2 then moved by +1.
	assert.InDelta(t, 3, floats[12+0], 1e-6)
	assert.InDelta(t, 0, floats[12+1], 1e-6)
	// Vertex 2 color is blue with alpha 128/255.
	assert.InDelta(t, 1, floats[2*12+10], 1e-6)
	assert.InDelta(t, 128.0/255, floats[2*12+11], 1e-6)
	// The second primitive has no COLOR_0 and falls back to white.
	assert.Equal(t, []float32{1, 1, 1, 1}, floats[3*12+8:3*12+12])

	require.Len(t, a.Materials, 2)
	assert.Equal(t, "leaf", a.Materials[0].Name())
	assert.Equal(t, [4]float32{0.2, 0.4, 0.6, 1}, a.Materials[0].BaseColor())
	assert.Equal(t, "default", a.Materials[1].Name())
	assert.Equal(t, [4]float32{1, 1, 1, 1}, a.Materials[1].BaseColor())

	bounds := a.Mesh.Bounds()
	assert.InDelta(t, 1, bounds.Min().X(), 1e-6)
	assert.InDelta(t, 3, bounds.Max().X(), 1e-6)
	assert.InDelta(t, 2, bounds.Max().Y(), 1e-6)
}

func TestLoader_LoadReaderEmbeddedBuffer(t *testing.T) {
	l := NewLoader()
	a, err := l.LoadReader("tri", strings.NewReader(embeddedDocument()), false)
	require.NoError(t, err)
	assertTriangleAsset(t, a)
	assert.Same(t, a, l.Get("tri"))
}

func TestLoader_LoadReaderGLB(t *testing.T) {
	l := NewLoader()
	a, err := l.LoadReader("tri.glb", bytes.NewReader(glbDocument()), true)
	require.NoError(t, err)
	assertTriangleAsset(t, a)
}

func TestLoader_LoadFileCachesByPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tri.bin"), triangleBuffer(), 0o644))
	doc := triangleDocument(fmt.Sprintf(`{"byteLength": %d, "uri": "tri.bin"}`, len(triangleBuffer())))
	path := filepath.Join(dir, "tri.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	l := NewLoader(WithPipelineKey("instanced"))
	a, err := l.Load(path)
	require.NoError(t, err)
	assertTriangleAsset(t, a)
	for _, m := range a.Materials {
		assert.Equal(t, "instanced", m.PipelineKey())
	}

	again, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Len(t, l.Assets(), 1)

	assert.True(t, l.Evict(path))
	assert.False(t, l.Evict(path))
	assert.Nil(t, l.Get(path))
}

func TestLoader_Errors(t *testing.T) {
	l := NewLoader()

	_, err := l.Load("model.obj")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = l.LoadReader("v1", strings.NewReader(`{"asset": {"version": "1.0"}}`), false)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = l.LoadReader("junk", strings.NewReader("not json"), false)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = l.LoadReader("glb", bytes.NewReader([]byte("glTF")), true)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	empty := `{"asset": {"version": "2.0"}, "nodes": [{"name": "empty"}]}`
	_, err = l.LoadReader("empty", strings.NewReader(empty), false)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	points := strings.Replace(embeddedDocument(), `"indices": 1, "material": 0}`, `"indices": 1, "material": 0, "mode": 0}`, 1)
	_, err = l.LoadReader("points", strings.NewReader(points), false)
	assert.ErrorIs(t, err, ErrUnsupported)

	badMesh := strings.Replace(embeddedDocument(), `"mesh": 0`, `"mesh": 5`, 1)
	_, err = l.LoadReader("bad", strings.NewReader(badMesh), false)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Empty(t, l.Assets())
}

func TestAsset_RendererBuildsLODLevel(t *testing.T) {
	a, err := NewLoader().LoadReader("tri", strings.NewReader(embeddedDocument()), false)
	require.NoError(t, err)

	desc := a.Renderer(lod.RendererDescriptor{Layer: 3, ReceiveShadows: true})
	assert.Equal(t, 3, desc.Layer)
	assert.True(t, desc.ReceiveShadows)
	assert.Equal(t, 2, desc.MaterialCount())

	data, err := lod.NewLODGroupData("tri", lod.WithLevel(50, desc))
	require.NoError(t, err)
	assert.Equal(t, 2, data.MaterialCount())
}
