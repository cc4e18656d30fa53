package shader

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// Host-shareable size and alignment rules.
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size

// typeLayout is the byte size and alignment of a host-shareable WGSL type.
type typeLayout struct {
	size, align uint64
}

func roundUp(align, v uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// scalarSize returns the byte size of a scalar type name or vector shorthand suffix.
func scalarSize(s string) (uint64, bool) {
	switch s {
	case "f32", "i32", "u32", "bool", "f", "i", "u":
		return 4, true
	case "f16", "h":
		return 2, true
	}
	return 0, false
}

// parseVector splits vecN<T> and vecNf-style shorthands into the component scalar and width.
func parseVector(typeName string) (scalar string, n int, ok bool) {
	rest, found := strings.CutPrefix(typeName, "vec")
	if !found || len(rest) < 2 || rest[0] < '2' || rest[0] > '4' {
		return "", 0, false
	}
	n = int(rest[0] - '0')
	switch tail := rest[1:]; {
	case strings.HasPrefix(tail, "<") && strings.HasSuffix(tail, ">"):
		scalar = strings.TrimSpace(tail[1 : len(tail)-1])
	case len(tail) == 1:
		scalar = tail
	default:
		return "", 0, false
	}
	if _, ok := scalarSize(scalar); !ok {
		return "", 0, false
	}
	return scalar, n, true
}

func vectorLayout(scalarBytes uint64, n int) typeLayout {
	alignN := uint64(n)
	if n == 3 {
		alignN = 4
	}
	return typeLayout{size: uint64(n) * scalarBytes, align: alignN * scalarBytes}
}

// layoutResolver computes layouts for the structs of one module, memoizing as it goes.
type layoutResolver struct {
	module   *wgslModule
	resolved map[string]typeLayout
	visiting map[string]bool
}

func newLayoutResolver(m *wgslModule) *layoutResolver {
	return &layoutResolver{module: m, resolved: make(map[string]typeLayout), visiting: make(map[string]bool)}
}

// layout resolves a type. Runtime-sized arrays report one element, which is the smallest
// binding that can hold them.
func (r *layoutResolver) layout(typeName string) (typeLayout, bool) {
	typeName = strings.TrimSpace(typeName)
	if s, ok := scalarSize(typeName); ok && len(typeName) > 1 {
		return typeLayout{s, s}, true
	}
	if inner, ok := templateArg(typeName, "atomic"); ok {
		return r.layout(inner)
	}
	if scalar, n, ok := parseVector(typeName); ok {
		s, _ := scalarSize(scalar)
		return vectorLayout(s, n), true
	}
	if l, ok := matrixLayout(typeName); ok {
		return l, true
	}
	if inner, ok := templateArg(typeName, "array"); ok {
		parts := splitTopLevel(inner)
		elem, ok := r.layout(parts[0])
		if !ok {
			return typeLayout{}, false
		}
		stride := roundUp(elem.align, elem.size)
		count := uint64(1)
		if len(parts) == 2 {
			c, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
			if err != nil {
				return typeLayout{}, false
			}
			count = c
		}
		return typeLayout{count * stride, elem.align}, true
	}
	return r.structLayout(typeName)
}

func (r *layoutResolver) structLayout(name string) (typeLayout, bool) {
	if l, ok := r.resolved[name]; ok {
		return l, true
	}
	s, ok := r.module.structByName(name)
	if !ok || r.visiting[name] {
		return typeLayout{}, false
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	var offset uint64
	align := uint64(1)
	for _, f := range s.fields {
		if f.builtin {
			continue
		}
		fl, ok := r.layout(f.typeName)
		if !ok {
			return typeLayout{}, false
		}
		offset = roundUp(fl.align, offset) + fl.size
		align = max(align, fl.align)
	}
	l := typeLayout{roundUp(align, offset), align}
	r.resolved[name] = l
	return l, true
}

// matrixLayout handles matCxR<T> and matCxRf/h: C columns of vecR<T>.
func matrixLayout(typeName string) (typeLayout, bool) {
	rest, ok := strings.CutPrefix(typeName, "mat")
	if !ok || len(rest) < 4 || rest[1] != 'x' {
		return typeLayout{}, false
	}
	cols, rows := int(rest[0]-'0'), int(rest[2]-'0')
	if cols < 2 || cols > 4 || rows < 2 || rows > 4 {
		return typeLayout{}, false
	}
	scalar, _, ok := parseVector("vec2" + rest[3:])
	if !ok {
		return typeLayout{}, false
	}
	s, _ := scalarSize(scalar)
	col := vectorLayout(s, rows)
	return typeLayout{uint64(cols) * roundUp(col.align, col.size), col.align}, true
}

// templateArg returns the template argument of name<...>.
func templateArg(typeName, name string) (string, bool) {
	rest, ok := strings.CutPrefix(typeName, name+"<")
	if !ok || !strings.HasSuffix(rest, ">") {
		return "", false
	}
	return strings.TrimSpace(rest[:len(rest)-1]), true
}

// bindGroupLayouts converts the module bindings into layout descriptors keyed by group, with
// entries sorted by binding and buffer MinBindingSize filled where the type resolves.
func (m *wgslModule) bindGroupLayouts(visibility wgpu.ShaderStage) map[int]wgpu.BindGroupLayoutDescriptor {
	resolver := newLayoutResolver(m)
	out := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, b := range m.bindings {
		entry := bindingEntry(b, visibility)
		if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
			if l, ok := resolver.layout(b.typeName); ok {
				entry.Buffer.MinBindingSize = l.size
			}
		}
		desc := out[b.group]
		desc.Entries = append(desc.Entries, entry)
		out[b.group] = desc
	}
	for g, desc := range out {
		slices.SortFunc(desc.Entries, func(a, b wgpu.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		out[g] = desc
	}
	return out
}

func bindingEntry(b wgslBinding, visibility wgpu.ShaderStage) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: uint32(b.binding), Visibility: visibility}

	switch space := b.addressSpace; {
	case space == "uniform":
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		return entry
	case strings.HasPrefix(space, "storage"):
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		if strings.HasSuffix(space, "read_write") {
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
		return entry
	}

	base, args, _ := strings.Cut(b.typeName, "<")
	args = strings.TrimSuffix(args, ">")
	switch {
	case base == "sampler":
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	case base == "sampler_comparison":
		entry.Sampler.Type = wgpu.SamplerBindingTypeComparison
	case strings.HasPrefix(base, "texture_storage_"):
		entry.StorageTexture.ViewDimension = viewDimension(strings.TrimPrefix(base, "texture_storage_"))
		format, access, _ := strings.Cut(args, ",")
		entry.StorageTexture.Format = storageFormats[strings.TrimSpace(format)]
		switch strings.TrimSpace(access) {
		case "read":
			entry.StorageTexture.Access = wgpu.StorageTextureAccessReadOnly
		case "read_write":
			entry.StorageTexture.Access = wgpu.StorageTextureAccessReadWrite
		default:
			entry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
		}
	case strings.HasPrefix(base, "texture_depth_"):
		dim := strings.TrimPrefix(base, "texture_depth_")
		entry.Texture.SampleType = wgpu.TextureSampleTypeDepth
		entry.Texture.Multisampled = strings.HasPrefix(dim, "multisampled_")
		entry.Texture.ViewDimension = viewDimension(strings.TrimPrefix(dim, "multisampled_"))
	case strings.HasPrefix(base, "texture_"):
		dim := strings.TrimPrefix(base, "texture_")
		entry.Texture.Multisampled = strings.HasPrefix(dim, "multisampled_")
		entry.Texture.ViewDimension = viewDimension(strings.TrimPrefix(dim, "multisampled_"))
		switch strings.TrimSpace(args) {
		case "i32":
			entry.Texture.SampleType = wgpu.TextureSampleTypeSint
		case "u32":
			entry.Texture.SampleType = wgpu.TextureSampleTypeUint
		default:
			entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
		}
	}
	return entry
}

func viewDimension(dim string) wgpu.TextureViewDimension {
	switch dim {
	case "1d":
		return wgpu.TextureViewDimension1D
	case "2d_array":
		return wgpu.TextureViewDimension2DArray
	case "3d":
		return wgpu.TextureViewDimension3D
	case "cube":
		return wgpu.TextureViewDimensionCube
	case "cube_array":
		return wgpu.TextureViewDimensionCubeArray
	default:
		return wgpu.TextureViewDimension2D
	}
}

// storageFormats lists the texel formats WGSL allows on storage textures.
var storageFormats = map[string]wgpu.TextureFormat{
	"rgba8unorm":  wgpu.TextureFormatRGBA8Unorm,
	"rgba8snorm":  wgpu.TextureFormatRGBA8Snorm,
	"rgba8uint":   wgpu.TextureFormatRGBA8Uint,
	"rgba8sint":   wgpu.TextureFormatRGBA8Sint,
	"rgba16uint":  wgpu.TextureFormatRGBA16Uint,
	"rgba16sint":  wgpu.TextureFormatRGBA16Sint,
	"rgba16float": wgpu.TextureFormatRGBA16Float,
	"r32uint":     wgpu.TextureFormatR32Uint,
	"r32sint":     wgpu.TextureFormatR32Sint,
	"r32float":    wgpu.TextureFormatR32Float,
	"rg32uint":    wgpu.TextureFormatRG32Uint,
	"rg32sint":    wgpu.TextureFormatRG32Sint,
	"rg32float":   wgpu.TextureFormatRG32Float,
	"rgba32uint":  wgpu.TextureFormatRGBA32Uint,
	"rgba32sint":  wgpu.TextureFormatRGBA32Sint,
	"rgba32float": wgpu.TextureFormatRGBA32Float,
	"bgra8unorm":  wgpu.TextureFormatBGRA8Unorm,
}

// vertexFormat maps a vertex attribute type to its format and byte size.
func vertexFormat(typeName string) (wgpu.VertexFormat, uint64, bool) {
	scalar, n := typeName, 1
	if s, width, ok := parseVector(typeName); ok {
		scalar, n = s, width
	}
	var formats [5]wgpu.VertexFormat
	switch scalar {
	case "f32", "f":
		formats = [5]wgpu.VertexFormat{1: wgpu.VertexFormatFloat32, 2: wgpu.VertexFormatFloat32x2, 3: wgpu.VertexFormatFloat32x3, 4: wgpu.VertexFormatFloat32x4}
	case "i32", "i":
		formats = [5]wgpu.VertexFormat{1: wgpu.VertexFormatSint32, 2: wgpu.VertexFormatSint32x2, 3: wgpu.VertexFormatSint32x3, 4: wgpu.VertexFormatSint32x4}
	case "u32", "u":
		formats = [5]wgpu.VertexFormat{1: wgpu.VertexFormatUint32, 2: wgpu.VertexFormatUint32x2, 3: wgpu.VertexFormatUint32x3, 4: wgpu.VertexFormatUint32x4}
	case "f16", "h":
		formats = [5]wgpu.VertexFormat{2: wgpu.VertexFormatFloat16x2, 4: wgpu.VertexFormatFloat16x4}
	default:
		return 0, 0, false
	}
	if formats[n] == 0 {
		return 0, 0, false
	}
	s, _ := scalarSize(scalar)
	return formats[n], uint64(n) * s, true
}

// vertexLayouts builds one buffer layout per struct parameter of the vertex entry point whose
// members are all @location attributes.
func (m *wgslModule) vertexLayouts() []wgpu.VertexBufferLayout {
	entry, ok := m.entries[ShaderTypeVertex]
	if !ok {
		return nil
	}
	var layouts []wgpu.VertexBufferLayout
	for _, p := range entry.params {
		s, ok := m.structByName(p.typeName)
		if !ok {
			continue
		}
		if layout, ok := vertexBufferLayout(s); ok {
			layouts = append(layouts, layout)
		}
	}
	return layouts
}

func vertexBufferLayout(s wgslStruct) (wgpu.VertexBufferLayout, bool) {
	layout := wgpu.VertexBufferLayout{StepMode: wgpu.VertexStepModeVertex}
	for _, f := range s.fields {
		if f.builtin || f.location < 0 {
			return wgpu.VertexBufferLayout{}, false
		}
		format, size, ok := vertexFormat(f.typeName)
		if !ok {
			return wgpu.VertexBufferLayout{}, false
		}
		layout.Attributes = append(layout.Attributes, wgpu.VertexAttribute{
			Format:         format,
			Offset:         layout.ArrayStride,
			ShaderLocation: uint32(f.location),
		})
		layout.ArrayStride += size
	}
	return layout, len(layout.Attributes) > 0
}
