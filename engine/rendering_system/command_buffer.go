package rendering_system

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"go.uber.org/zap"
)

func (s *renderingSystem) UpdateCommandBuffers() error {
	if s.disposed {
		return ErrDisposed
	}
	if err := s.syncParameters(); err != nil {
		s.logger.Error("parameter upload failed", zap.Error(err))
		return err
	}
	var errs []error
	for _, data := range append(s.cameras.All(), s.cameras.Transient()...) {
		if err := s.rebuild(data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("command buffer rebuild failed", zap.Error(err))
		return err
	}
	s.dirty = false
	return nil
}

// drawnGroup reports whether a group takes part in command buffers.
func drawnGroup(g render_source.RenderSourceGroup) bool {
	return g.LODGroupData() != nil && g.BufferSize() > 0 && g.TransformBuffer() != nil
}

// stale reports whether a camera's command buffer no longer matches the group layout.
func (s *renderingSystem) stale(data camera.CameraData) bool {
	cb := data.CommandBuffer()
	if cb == nil {
		return true
	}
	n := 0
	for _, g := range s.groups.Groups() {
		if !drawnGroup(g) {
			continue
		}
		n++
		e, ok := cb.Entries[g.Key()]
		if !ok || e.LayoutVersion != g.LayoutVersion() {
			return true
		}
	}
	return n != len(cb.Entries)
}

// rebuild lays out a new command buffer for a camera. Groups take consecutive command ranges
// in creation order: the opaque commands of every LOD, then the shadow commands when the
// group casts shadows. Each record's FirstInstance points at the visibility list of its LOD
// and pass, so the culling kernel only has to write instance counts.
func (s *renderingSystem) rebuild(data camera.CameraData) error {
	cb := &camera.CommandBuffer{Entries: make(map[render_source.GroupKey]camera.GroupEntry)}
	fail := func(err error) error {
		cb.Release(s.r)
		return fmt.Errorf("camera %d: %w", data.Camera().ID(), err)
	}

	var template []byte
	for _, g := range s.groups.Groups() {
		if !drawnGroup(g) {
			continue
		}
		lodData := g.LODGroupData()
		lodCount := lodData.LODCount()
		bufferSize := g.BufferSize()

		vis, err := s.r.CreateBuffer(g.Key().String()+" Visibility", uint64(g.VisibilityLength()*4),
			resource.BufferUsageStorage|resource.BufferUsageCopyDst)
		if err != nil {
			return fail(err)
		}
		cb.VisibilityBuffers = append(cb.VisibilityBuffers, vis)
		uniforms, err := s.r.CreateBuffer(g.Key().String()+" Culling Uniforms", culling.UniformsSize,
			resource.BufferUsageUniform|resource.BufferUsageCopyDst)
		if err != nil {
			return fail(err)
		}

		entry := camera.GroupEntry{
			VisibilityBufferIndex: len(cb.VisibilityBuffers) - 1,
			CommandStartIndex:     cb.CommandCount,
			CommandCount:          g.CommandCount(),
			CullingUniforms:       uniforms,
			LayoutVersion:         g.LayoutVersion(),
		}
		for pass := range g.PassCount() {
			for l, level := range lodData.Levels() {
				first := uint32(bufferSize * (l + pass*lodCount))
				for _, rd := range level.Renderers {
					subMeshes := rd.Mesh.SubMeshes()
					for m := range rd.MaterialCount() {
						rec := renderer.GPUIndirectArgs{FirstInstance: first}
						if m < len(subMeshes) {
							rec.IndexCount = subMeshes[m].IndexCount
							rec.FirstIndex = subMeshes[m].IndexStart
							rec.BaseVertex = subMeshes[m].BaseVertex
						}
						template = append(template, rec.Marshal()...)
					}
				}
			}
		}
		cb.CommandCount += entry.CommandCount
		cb.Entries[g.Key()] = entry
	}

	args, err := s.r.CreateBuffer(fmt.Sprintf("Camera %d Indirect Args", data.Camera().ID()),
		uint64(max(cb.CommandCount, 1)*renderer.IndirectArgsStride),
		resource.BufferUsageIndirect|resource.BufferUsageStorage|resource.BufferUsageCopyDst)
	if err != nil {
		return fail(err)
	}
	cb.Args = args
	cb.Template = template

	for key, entry := range cb.Entries {
		g, _ := s.groups.Group(key)
		vis := cb.VisibilityBuffers[entry.VisibilityBufferIndex]
		entry.Bindings = property_block.NewPropertyBlock(key.String()+" Culling",
			property_block.WithBuffer(culling.BindingTransforms, g.TransformBuffer()),
			property_block.WithBuffer(culling.BindingParameters, s.params.Buffer()),
			property_block.WithBuffer(culling.BindingVisibility, vis),
			property_block.WithBuffer(culling.BindingArgs, args),
			property_block.WithBuffer(culling.BindingRanges, g.RangesBuffer()),
			property_block.WithBuffer(culling.BindingUniforms, entry.CullingUniforms),
			property_block.WithTexture(culling.BindingHiZ, s.emptyHiZ),
		)
		entry.Instance = s.instanceBlock(g, vis)
		cb.Entries[key] = entry
	}

	data.SetCommandBuffer(s.r, cb)
	s.current.CommandBufferBuilds++
	s.logger.Debug("command buffer rebuilt",
		zap.Int("camera_id", data.Camera().ID()),
		zap.Int("groups", len(cb.Entries)),
		zap.Int("commands", cb.CommandCount),
	)
	return nil
}

// instanceBlock builds the instance group of a group's draws. Without motion vectors the
// previous-transform slot aliases the current transforms.
func (s *renderingSystem) instanceBlock(g render_source.RenderSourceGroup, vis *resource.Buffer) property_block.PropertyBlock {
	prev := g.PreviousTransformBuffer()
	if prev == nil {
		prev = g.TransformBuffer()
	}
	profileIndex, _ := s.params.Index(g.Profile().OwnerKey())
	lodIndex, _ := s.params.Index(g.LODGroupData().OwnerKey())
	params := GPUDrawParams{
		LODCount:     float32(g.LODCount()),
		BufferSize:   float32(g.BufferSize()),
		ProfileIndex: float32(profileIndex),
		LODIndex:     float32(lodIndex),
	}
	return property_block.NewPropertyBlock(g.Key().String()+" Instance",
		property_block.WithBuffer(BindingTransforms, g.TransformBuffer()),
		property_block.WithBuffer(BindingPreviousTransforms, prev),
		property_block.WithBuffer(BindingVisibility, vis),
		property_block.WithBuffer(BindingParameters, s.params.Buffer()),
		property_block.WithFloats(BindingDrawParams, params.Floats()...),
	)
}
