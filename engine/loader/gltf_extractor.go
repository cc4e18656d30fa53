package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

// maxNodeDepth bounds the hierarchy walk so a cyclic document fails instead of recursing forever.
const maxNodeDepth = 64

// meshBuilder accumulates the flattened geometry of every mesh node in a scene.
type meshBuilder struct {
	parser      *gltfParser
	pipelineKey string

	vertices  []model.GPUVertex
	indices   []uint32
	subMeshes []model.SubMesh
	materials []material.Material

	// materialCache maps a glTF material index to its converted material. -1 is the default.
	materialCache map[int]material.Material
}

func newMeshBuilder(p *gltfParser, pipelineKey string) *meshBuilder {
	return &meshBuilder{
		parser:        p,
		pipelineKey:   pipelineKey,
		materialCache: make(map[int]material.Material),
	}
}

// rootNodes returns the root nodes of the default scene. Documents without scenes use every
// node that is nobody's child.
func (b *meshBuilder) rootNodes() []int {
	doc := b.parser.document
	if len(doc.Scenes) > 0 {
		scene := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			scene = *doc.Scene
		}
		return doc.Scenes[scene].Nodes
	}

	isChild := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(isChild) {
				isChild[c] = true
			}
		}
	}
	var roots []int
	for i, child := range isChild {
		if !child {
			roots = append(roots, i)
		}
	}
	return roots
}

// build walks the default scene and emits one submesh per triangle primitive.
func (b *meshBuilder) build() error {
	for _, root := range b.rootNodes() {
		if err := b.visit(root, mgl32.Ident4(), 0); err != nil {
			return err
		}
	}
	if len(b.subMeshes) == 0 {
		return fmt.Errorf("document has no triangle meshes: %w", ErrInvalidDocument)
	}
	return nil
}

func (b *meshBuilder) visit(index int, parent mgl32.Mat4, depth int) error {
	doc := b.parser.document
	if index < 0 || index >= len(doc.Nodes) {
		return fmt.Errorf("node %d: %w", index, ErrOutOfRange)
	}
	if depth > maxNodeDepth {
		return fmt.Errorf("node hierarchy deeper than %d: %w", maxNodeDepth, ErrInvalidDocument)
	}

	node := &doc.Nodes[index]
	world := parent.Mul4(localTransform(node))
	if node.Mesh != nil {
		if *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) {
			return fmt.Errorf("node %d mesh %d: %w", index, *node.Mesh, ErrOutOfRange)
		}
		for i, prim := range doc.Meshes[*node.Mesh].Primitives {
			if err := b.addPrimitive(prim, world); err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", *node.Mesh, i, err)
			}
		}
	}
	for _, child := range node.Children {
		if err := b.visit(child, world, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// localTransform returns the node matrix, or T*R*S when the node uses separate components.
func localTransform(n *gltfNode) mgl32.Mat4 {
	if n.Matrix != nil {
		return mgl32.Mat4(*n.Matrix)
	}
	m := mgl32.Ident4()
	if n.Translation != nil {
		m = mgl32.Translate3D(n.Translation[0], n.Translation[1], n.Translation[2])
	}
	if n.Rotation != nil {
		q := mgl32.Quat{W: n.Rotation[3], V: mgl32.Vec3{n.Rotation[0], n.Rotation[1], n.Rotation[2]}}
		m = m.Mul4(q.Normalize().Mat4())
	}
	if n.Scale != nil {
		m = m.Mul4(mgl32.Scale3D(n.Scale[0], n.Scale[1], n.Scale[2]))
	}
	return m
}

func (b *meshBuilder) addPrimitive(prim gltfPrimitive, world mgl32.Mat4) error {
	if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
		return fmt.Errorf("primitive mode %d: %w", *prim.Mode, ErrUnsupported)
	}
	posIndex, ok := prim.Attributes["POSITION"]
	if !ok {
		return fmt.Errorf("primitive without POSITION: %w", ErrInvalidDocument)
	}
	positions, err := b.parser.readFloats(posIndex, 3)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}

	var normals, uvs, colors [][4]float32
	if i, ok := prim.Attributes["NORMAL"]; ok {
		if normals, err = b.parser.readFloats(i, 3); err != nil {
			return fmt.Errorf("normals: %w", err)
		}
	}
	if i, ok := prim.Attributes["TEXCOORD_0"]; ok {
		if uvs, err = b.parser.readFloats(i, 2); err != nil {
			return fmt.Errorf("texcoords: %w", err)
		}
	}
	colorComponents := 0
	if i, ok := prim.Attributes["COLOR_0"]; ok {
		colorComponents = b.parser.componentCount(i)
		if colors, err = b.parser.readFloats(i, colorComponents); err != nil {
			return fmt.Errorf("colors: %w", err)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = b.parser.readIndices(*prim.Indices); err != nil {
			return fmt.Errorf("indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	for _, idx := range indices {
		if int(idx) >= len(positions) {
			return fmt.Errorf("vertex index %d of %d: %w", idx, len(positions), ErrOutOfRange)
		}
	}

	normalMatrix := world.Mat3().Inv().Transpose()
	baseVertex := len(b.vertices)
	for i, p := range positions {
		v := model.GPUVertex{
			Normal: [3]float32{0, 1, 0},
			Color:  [4]float32{1, 1, 1, 1},
		}
		wp := world.Mul4x1(mgl32.Vec4{p[0], p[1], p[2], 1})
		v.Position = [3]float32{wp[0], wp[1], wp[2]}
		if i < len(normals) {
			n := normalMatrix.Mul3x1(mgl32.Vec3{normals[i][0], normals[i][1], normals[i][2]})
			if n.Len() > 0 {
				v.Normal = n.Normalize()
			}
		}
		if i < len(uvs) {
			v.TexCoord = [2]float32{uvs[i][0], uvs[i][1]}
		}
		if i < len(colors) {
			v.Color = colors[i]
			if colorComponents == 3 {
				v.Color[3] = 1
			}
		}
		b.vertices = append(b.vertices, v)
	}

	b.subMeshes = append(b.subMeshes, model.SubMesh{
		IndexStart: uint32(len(b.indices)),
		IndexCount: uint32(len(indices)),
		BaseVertex: int32(baseVertex),
	})
	b.indices = append(b.indices, indices...)

	materialIndex := -1
	if prim.Material != nil {
		materialIndex = *prim.Material
	}
	mat, err := b.material(materialIndex)
	if err != nil {
		return err
	}
	b.materials = append(b.materials, mat)
	return nil
}

// material converts a glTF material, sharing one instance between primitives that reference it.
func (b *meshBuilder) material(index int) (material.Material, error) {
	if mat, ok := b.materialCache[index]; ok {
		return mat, nil
	}

	doc := b.parser.document
	options := []material.MaterialBuilderOption{material.WithName("default")}
	if b.pipelineKey != "" {
		options = append(options, material.WithPipelineKey(b.pipelineKey))
	}
	if index >= 0 {
		if index >= len(doc.Materials) {
			return nil, fmt.Errorf("material %d: %w", index, ErrOutOfRange)
		}
		src := doc.Materials[index]
		name := src.Name
		if name == "" {
			name = fmt.Sprintf("material_%d", index)
		}
		options = append(options, material.WithName(name))
		if pbr := src.PbrMetallicRoughness; pbr != nil && pbr.BaseColorFactor != nil {
			options = append(options, material.WithBaseColor(*pbr.BaseColorFactor))
		}
		if src.AlphaMode == "MASK" {
			cutoff := float32(0.5)
			if src.AlphaCutoff != nil {
				cutoff = *src.AlphaCutoff
			}
			options = append(options, material.WithAlphaCutoff(cutoff))
		}
	}

	mat := material.NewMaterial(options...)
	b.materialCache[index] = mat
	return mat, nil
}
