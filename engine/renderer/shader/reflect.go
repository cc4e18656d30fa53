package shader

import (
	"slices"

	"github.com/cogentcore/webgpu/wgpu"
)

// Reflection is the resource interface read from a shader's annotated source. Both branches of
// every keyword conditional are scanned, so the result covers all variants.
type Reflection struct {
	BindGroupLayouts map[int]wgpu.BindGroupLayoutDescriptor
	VertexLayouts    []wgpu.VertexBufferLayout
	WorkgroupSize    [3]uint32
	EntryPoint       string
}

// Reflect scans a shader's source for bind groups, vertex inputs, workgroup size and entry point.
//
// Parameters:
//   - s: the shader
//
// Returns:
//   - Reflection: the resource interface of the shader
func Reflect(s Shader) Reflection {
	var visibility wgpu.ShaderStage
	switch s.ShaderType() {
	case ShaderTypeVertex:
		visibility = wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		visibility = wgpu.ShaderStageFragment
	default:
		visibility = wgpu.ShaderStageCompute
	}

	m := scanWGSL(s.Source())
	r := Reflection{
		BindGroupLayouts: m.bindGroupLayouts(visibility),
		WorkgroupSize:    m.workgroup,
		EntryPoint:       m.entries[s.ShaderType()].name,
	}
	if s.ShaderType() == ShaderTypeVertex {
		r.VertexLayouts = m.vertexLayouts()
	}
	return r
}

// MergeBindGroupLayouts combines the layouts of several stages. Entries declared by more than
// one stage keep the first declaration and widen its visibility.
//
// Parameters:
//   - layouts: per stage layouts
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged layouts
func MergeBindGroupLayouts(layouts ...map[int]wgpu.BindGroupLayoutDescriptor) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, stage := range layouts {
		for group, desc := range stage {
			current := merged[group]
			for _, entry := range desc.Entries {
				i := slices.IndexFunc(current.Entries, func(e wgpu.BindGroupLayoutEntry) bool {
					return e.Binding == entry.Binding
				})
				if i >= 0 {
					current.Entries[i].Visibility |= entry.Visibility
					continue
				}
				current.Entries = append(current.Entries, entry)
			}
			slices.SortFunc(current.Entries, func(a, b wgpu.BindGroupLayoutEntry) int {
				return int(a.Binding) - int(b.Binding)
			})
			merged[group] = current
		}
	}
	return merged
}
