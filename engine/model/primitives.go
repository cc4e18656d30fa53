package model

// NewCube builds a unit cube centered on the origin with one submesh per face pair
// when split is true, otherwise a single submesh.
//
// Parameters:
//   - name: the model identifier
//   - split: true to emit three submeshes (x, y and z facing sides)
//
// Returns:
//   - Model: the cube
func NewCube(name string, split bool) Model {
	faces := [6]struct {
		normal [3]float32
		u, v   [3]float32
	}{
		{[3]float32{1, 0, 0}, [3]float32{0, 0, -1}, [3]float32{0, 1, 0}},
		{[3]float32{-1, 0, 0}, [3]float32{0, 0, 1}, [3]float32{0, 1, 0}},
		{[3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, -1}},
		{[3]float32{0, -1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}},
		{[3]float32{0, 0, 1}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{0, 0, -1}, [3]float32{-1, 0, 0}, [3]float32{0, 1, 0}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	vertices := make([]GPUVertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(vertices))
		for _, c := range corners {
			var pos [3]float32
			for a := 0; a < 3; a++ {
				pos[a] = 0.5 * (f.normal[a] + c[0]*f.u[a] + c[1]*f.v[a])
			}
			vertices = append(vertices, GPUVertex{
				Position: pos,
				Normal:   f.normal,
				TexCoord: [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
				Color:    [4]float32{1, 1, 1, 1},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}

	options := []ModelBuilderOption{WithName(name), WithVertices(vertices), WithIndices(indices)}
	if split {
		options = append(options, WithSubMeshes(
			SubMesh{IndexStart: 0, IndexCount: 12},
			SubMesh{IndexStart: 12, IndexCount: 12},
			SubMesh{IndexStart: 24, IndexCount: 12},
		))
	}
	return NewModel(options...)
}

// NewCrossedQuads builds the two vertical quads crossing at right angles used for grass and
// detail vegetation. The quads stand on y = 0 and are height units tall.
//
// Parameters:
//   - name: the model identifier
//   - width: the quad width
//   - height: the quad height
//
// Returns:
//   - Model: the crossed quads
func NewCrossedQuads(name string, width, height float32) Model {
	h := width / 2
	planes := [2][2][3]float32{
		{{-h, 0, 0}, {h, 0, 0}},
		{{0, 0, -h}, {0, 0, h}},
	}
	normals := [2][3]float32{{0, 0, 1}, {1, 0, 0}}

	vertices := make([]GPUVertex, 0, 8)
	indices := make([]uint32, 0, 12)
	for i, p := range planes {
		base := uint32(len(vertices))
		quad := [4][3]float32{
			p[0],
			p[1],
			{p[1][0], height, p[1][2]},
			{p[0][0], height, p[0][2]},
		}
		uvs := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
		for c := range quad {
			vertices = append(vertices, GPUVertex{
				Position: quad[c],
				Normal:   normals[i],
				TexCoord: uvs[c],
				Color:    [4]float32{1, 1, 1, 1},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return NewModel(WithName(name), WithVertices(vertices), WithIndices(indices))
}
