// Package culling holds the visibility kernel: a WGSL compute pipeline that fills a camera's
// visibility and indirect argument buffers, and the CPU kernel that stands in for it on the
// headless backend. Both share one binding layout and uniform block.
package culling

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/chewxy/math32"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// PipelineKey is the compute pipeline key of the visibility kernel.
const PipelineKey = "instancer_culling"

// WorkgroupSize is the invocation count of one culling workgroup.
const WorkgroupSize = 64

// Bindings of the culling dispatch, all in group 0.
const (
	BindingTransforms = 0
	BindingParameters = 1
	BindingVisibility = 2
	BindingArgs       = 3
	BindingRanges     = 4
	BindingUniforms   = 5
	BindingHiZ        = 6
)

// maxOcclusionTexels is the widest Hi-Z footprint tested before an instance counts as visible.
const maxOcclusionTexels = 8

var (
	// ErrMissingBinding is returned when a dispatch lacks a binding the kernel reads.
	ErrMissingBinding = errors.New("culling: missing binding")
	// ErrBindingTooSmall is returned when a bound buffer is smaller than the uniforms require.
	ErrBindingTooSmall = errors.New("culling: binding too small")
)

// NewPipeline returns the visibility compute pipeline. The Hi-Z binding is an R32Float
// texture, which WebGPU only samples as unfilterable.
//
// Returns:
//   - pipeline.Pipeline: the pipeline description
func NewPipeline() pipeline.Pipeline {
	cs := shader.NewShader(PipelineKey, shader.ShaderTypeCompute, cullingSource, "cs_cull", nil)
	layout := shader.Reflect(cs).BindGroupLayouts[0]
	for i := range layout.Entries {
		if layout.Entries[i].Binding == BindingHiZ {
			layout.Entries[i].Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
		}
	}
	layout.Label = PipelineKey + " group 0"
	return pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeCompute,
		pipeline.WithComputeShader(cs),
		pipeline.WithBindGroupLayout(0, layout),
	)
}

// WorkgroupCount returns the dispatch size covering a number of live instances.
//
// Parameters:
//   - instances: the live instance count
//
// Returns:
//   - [3]uint32: the workgroup count
func WorkgroupCount(instances int) [3]uint32 {
	return [3]uint32{common.DivCeil(uint32(instances), WorkgroupSize), 1, 1}
}

// kernelState is one dispatch's view of its bindings.
type kernelState struct {
	u          GPUCullingUniforms
	frustum    common.Frustum
	transforms []byte
	params     []float32
	visibility []byte
	args       []byte
	hiz        []byte
}

// Kernel is the CPU implementation of the visibility kernel. It walks every live instance of
// the source ranges and performs the same distance, LOD, frustum, occlusion and shadow tests
// as the compute shader, in instance order.
//
// Parameters:
//   - d: the dispatch, with the culling bindings in d.Bindings
//   - mem: host memory of the bound resources
//
// Returns:
//   - error: an error if a binding is missing or too small
func Kernel(d renderer.ComputeDispatch, mem renderer.BufferMemory) error {
	b := d.Bindings
	if b == nil {
		return fmt.Errorf("%s: %w", d.Label, ErrMissingBinding)
	}
	raw := map[int][]byte{}
	for _, binding := range []int{BindingTransforms, BindingParameters, BindingVisibility, BindingArgs, BindingRanges, BindingUniforms} {
		data := mem.Bytes(b.Buffer(binding))
		if data == nil {
			return fmt.Errorf("%s binding %d: %w", d.Label, binding, ErrMissingBinding)
		}
		raw[binding] = data
	}
	u, err := UnmarshalUniforms(raw[BindingUniforms])
	if err != nil {
		return fmt.Errorf("%s uniforms: %w", d.Label, ErrBindingTooSmall)
	}

	s := &kernelState{
		u:          u,
		frustum:    common.UnpackFrustum(u.Frustum[:]),
		transforms: raw[BindingTransforms],
		params:     common.BytesToFloat32s(raw[BindingParameters]),
		visibility: raw[BindingVisibility],
		args:       raw[BindingArgs],
	}
	if u.OcclusionEnabled != 0 {
		s.hiz = mem.Pixels(b.Texture(BindingHiZ))
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("%s: %w", d.Label, err)
	}

	ranges := common.BytesToUint32s(raw[BindingRanges])
	remaining := int(u.InstanceCount)
	for r := 0; r+1 < len(ranges) && r/2 < int(u.RangeCount) && remaining > 0; r += 2 {
		start, count := int(ranges[r]), min(int(ranges[r+1]), remaining)
		for i := start; i < start+count; i++ {
			s.cull(i)
		}
		remaining -= count
	}
	return nil
}

func (s *kernelState) validate() error {
	u := s.u
	if u.LODCount == 0 || u.LODCount > lod.MaxLevels {
		return fmt.Errorf("lod count %d: %w", u.LODCount, ErrBindingTooSmall)
	}
	if int(u.ProfileIndex)+profile.ParameterCount > len(s.params) || int(u.LODIndex)+lod.ParameterCount > len(s.params) {
		return fmt.Errorf("parameters: %w", ErrBindingTooSmall)
	}
	passes := uint32(1)
	if u.ShadowEnabled != 0 {
		passes = 2
	}
	if uint64(u.BufferSize)*uint64(u.TransformStride)*4 > uint64(len(s.transforms)) {
		return fmt.Errorf("transforms: %w", ErrBindingTooSmall)
	}
	if uint64(u.BufferSize)*uint64(u.LODCount)*uint64(passes)*4 > uint64(len(s.visibility)) {
		return fmt.Errorf("visibility: %w", ErrBindingTooSmall)
	}
	if uint64(u.CommandStart+u.MaterialCount*passes)*renderer.IndirectArgsStride > uint64(len(s.args)) {
		return fmt.Errorf("args: %w", ErrBindingTooSmall)
	}
	return nil
}

func (s *kernelState) profileParam(i int) float32 {
	return s.params[int(s.u.ProfileIndex)+i]
}

func (s *kernelState) lodParam(i int) float32 {
	return s.params[int(s.u.LODIndex)+i]
}

func (s *kernelState) transform(i int) (mgl32.Mat4, bool) {
	stride := int(s.u.TransformStride) * 4
	if (i+1)*stride > len(s.transforms) {
		return mgl32.Mat4{}, false
	}
	return common.ReadMatrix(s.transforms[i*stride:], stride), true
}

func (s *kernelState) cull(index int) {
	u := s.u
	m, ok := s.transform(index)
	if !ok {
		return
	}
	boundsCenter := mgl32.Vec3{
		s.lodParam(lod.ParamBoundsCenter),
		s.lodParam(lod.ParamBoundsCenter + 1),
		s.lodParam(lod.ParamBoundsCenter + 2),
	}
	center := m.Mul4x1(boundsCenter.Vec4(1)).Vec3()
	radius := s.lodParam(lod.ParamBoundsRadiusHint)*common.MaxAxisScale(m) + s.profileParam(profile.ParamBoundsOffset)
	dist := center.Sub(mgl32.Vec3(u.CameraPosition)).Len()

	if s.profileParam(profile.ParamDistanceCulling) > 0.5 &&
		(dist < s.profileParam(profile.ParamMinDistance) || dist > s.profileParam(profile.ParamMaxDistance)) {
		return
	}

	level, ok := s.selectLOD(dist)
	if !ok {
		return
	}

	visible := true
	if s.profileParam(profile.ParamFrustumCulling) > 0.5 && dist > s.profileParam(profile.ParamMinCullingDistance) {
		visible = s.frustum.IntersectsSphere(center, radius, s.profileParam(profile.ParamFrustumOffset))
	}
	if visible && s.hiz != nil && s.profileParam(profile.ParamOcclusionCulling) > 0.5 {
		visible = !s.occluded(center, radius, s.profileParam(profile.ParamOcclusionOffset))
	}

	lodOffset, lodCommands := u.LODOffsets[level], u.LODCounts[level]
	if visible {
		s.emit(u.CommandStart+lodOffset, lodCommands, u.BufferSize*level, index)
	}
	if u.ShadowEnabled != 0 && dist <= s.profileParam(profile.ParamShadowDistance) {
		s.emit(u.CommandStart+u.MaterialCount+lodOffset, lodCommands, u.BufferSize*(level+u.LODCount), index)
	}
}

// selectLOD returns the first level whose transition distance covers the biased distance,
// clamped to the finest allowed level. Instances beyond the last transition are culled.
func (s *kernelState) selectLOD(dist float32) (uint32, bool) {
	u := s.u
	scaled := dist * s.profileParam(profile.ParamLODBias) * u.LODBias
	for l := uint32(0); l < u.LODCount; l++ {
		if scaled <= s.lodParam(lod.ParamTransitionStart+int(l)) {
			return min(max(l, u.LODClamp), u.LODCount-1), true
		}
	}
	return 0, false
}

func (s *kernelState) occluded(center mgl32.Vec3, radius, offset float32) bool {
	u := s.u
	viewProj := mgl32.Mat4(u.ViewProj)
	uvMin, uvMax := mgl32.Vec2{1, 1}, mgl32.Vec2{0, 0}
	nearest := float32(1)
	for c := range 8 {
		corner := center.Add(mgl32.Vec3{
			cornerSign(c&1 != 0, radius),
			cornerSign(c&2 != 0, radius),
			cornerSign(c&4 != 0, radius),
		})
		clip := viewProj.Mul4x1(corner.Vec4(1))
		if clip.W() <= 0 {
			return false
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		uv := mgl32.Vec2{ndc.X()*0.5 + 0.5, 0.5 - ndc.Y()*0.5}
		for a := range 2 {
			uvMin[a] = math32.Min(uvMin[a], uv[a])
			uvMax[a] = math32.Max(uvMax[a], uv[a])
		}
		nearest = math32.Min(nearest, ndc.Z())
	}

	w, h := int(u.HiZSize[0]), int(u.HiZSize[1])
	if w <= 0 || h <= 0 || len(s.hiz) < w*h*4 {
		return false
	}
	texel := func(v float32, size int) int {
		return min(int(math32.Floor(common.Clamp(v, 0, 1)*float32(size))), size-1)
	}
	x0, x1 := texel(uvMin[0], w), texel(uvMax[0], w)
	y0, y1 := texel(uvMin[1], h), texel(uvMax[1], h)
	if x1-x0 >= maxOcclusionTexels || y1-y0 >= maxOcclusionTexels {
		return false
	}
	var farthest float32
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			farthest = math32.Max(farthest, math.Float32frombits(binary.LittleEndian.Uint32(s.hiz[(y*w+x)*4:])))
		}
	}
	return nearest-offset > farthest
}

func cornerSign(positive bool, r float32) float32 {
	if positive {
		return r
	}
	return -r
}

// emit appends an instance to a LOD's visibility list. The first command's instance count is
// the slot; every other command of the LOD draws the same list.
func (s *kernelState) emit(firstCommand, commands, visBase uint32, index int) {
	if commands == 0 {
		return
	}
	countAt := func(cmd uint32) int {
		return int(cmd)*renderer.IndirectArgsStride + 4
	}
	slot := binary.LittleEndian.Uint32(s.args[countAt(firstCommand):])
	if slot >= s.u.BufferSize {
		return
	}
	for c := range commands {
		at := countAt(firstCommand + c)
		binary.LittleEndian.PutUint32(s.args[at:], binary.LittleEndian.Uint32(s.args[at:])+1)
	}
	binary.LittleEndian.PutUint32(s.visibility[(visBase+slot)*4:], uint32(index))
}
