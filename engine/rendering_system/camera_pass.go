package rendering_system

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancer/engine/light"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"go.uber.org/zap"
)

func (s *renderingSystem) ProcessCamera(cam camera.Camera, frame int64) error {
	if s.disposed {
		return ErrDisposed
	}
	data, ok := s.cameras.Resolve(cam)
	if !ok {
		return nil
	}
	if !data.Update(frame) {
		return nil
	}
	s.frame = frame

	if err := s.syncParameters(); err != nil {
		s.logger.Error("parameter upload failed", zap.Error(err))
		return err
	}
	if s.dirty {
		if err := s.UpdateCommandBuffers(); err != nil {
			return err
		}
	} else if s.stale(data) {
		if err := s.rebuild(data); err != nil {
			s.logger.Error("command buffer rebuild failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
			return err
		}
	}
	cb := data.CommandBuffer()
	if cb == nil || cb.CommandCount == 0 {
		return nil
	}
	s.current.CameraPasses++
	s.updateShadowData(data)

	if err := s.cull(data, cb); err != nil {
		s.logger.Error("visibility pass failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
		return err
	}
	if err := s.draw(data, cb); err != nil {
		s.logger.Error("draw failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
		return err
	}
	return nil
}

// updateShadowData writes the light's view-projection, centered on the camera, into the
// camera's view block. The block is left untouched while the values are unchanged.
func (s *renderingSystem) updateShadowData(data camera.CameraData) {
	shadow := light.NewShadowData(s.shadowLight, data.Position(), s.shadowMapSize)
	floats := shadow.Floats()
	view := data.ViewBlock()
	if !slices.Equal(view.Floats(ViewBindingShadow), floats) {
		view.SetFloats(ViewBindingShadow, floats...)
	}
}

// lodClamp returns the finest LOD a group may draw: the coarser of the profile and system
// limits, never past the last level.
func (s *renderingSystem) lodClamp(g render_source.RenderSourceGroup) int {
	clamp := max(g.Profile().MaximumLODLevel, s.settings.MaximumLODLevel, 0)
	return min(clamp, max(g.LODCount()-1, 0))
}

// castsShadows reports whether a group's shadow commands are filled and drawn this frame.
func (s *renderingSystem) castsShadows(g render_source.RenderSourceGroup) bool {
	return g.ShadowEnabled() && s.shadowLight.CastsShadows()
}

// cull resets the camera's args from the template and runs the visibility kernel once per
// group with live instances.
func (s *renderingSystem) cull(data camera.CameraData, cb *camera.CommandBuffer) error {
	if len(cb.Template) > 0 {
		if err := s.r.WriteBuffer(cb.Args, 0, cb.Template); err != nil {
			return fmt.Errorf("reset args: %w", err)
		}
	}
	if err := s.r.BeginComputeFrame(); err != nil {
		return err
	}
	defer s.r.EndComputeFrame()

	var errs []error
	for _, g := range s.groups.Groups() {
		entry, ok := cb.Entries[g.Key()]
		if !ok || g.InstanceCount() == 0 || g.LODGroupData() == nil {
			continue
		}
		u := s.cullingUniforms(data, g, entry)
		if err := s.r.WriteBuffer(entry.CullingUniforms, 0, u.Marshal()); err != nil {
			errs = append(errs, fmt.Errorf("%s uniforms: %w", g.Key(), err))
			continue
		}
		err := s.r.DispatchCompute(renderer.ComputeDispatch{
			Label:          g.Key().String() + " Visibility",
			PipelineKey:    culling.PipelineKey,
			Bindings:       entry.Bindings,
			WorkgroupCount: culling.WorkgroupCount(g.InstanceCount()),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Key(), err))
			continue
		}
		s.current.Dispatches++
	}
	return errors.Join(errs...)
}

func (s *renderingSystem) cullingUniforms(data camera.CameraData, g render_source.RenderSourceGroup, entry camera.GroupEntry) culling.GPUCullingUniforms {
	profileIndex, _ := s.params.Index(g.Profile().OwnerKey())
	lodIndex, _ := s.params.Index(g.LODGroupData().OwnerKey())
	u := culling.GPUCullingUniforms{
		LODBias:         s.settings.LODBias,
		BufferSize:      uint32(g.BufferSize()),
		InstanceCount:   uint32(g.InstanceCount()),
		RangeCount:      uint32(len(g.Sources())),
		ProfileIndex:    uint32(profileIndex),
		LODIndex:        uint32(lodIndex),
		CommandStart:    uint32(entry.CommandStartIndex),
		LODClamp:        uint32(s.lodClamp(g)),
		TransformStride: uint32(g.Key().BufferType.Stride() / 4),
	}
	u.SetCamera(data.Frustum(), data.ViewProjection(), data.Position())
	u.SetLODLayout(g.LODGroupData())
	if s.castsShadows(g) {
		u.ShadowEnabled = 1
	}

	hiz := s.emptyHiZ
	if s.settings.OcclusionCulling && g.Profile().OcclusionCulling && data.HiZ() != nil {
		hiz = data.HiZ()
		desc := hiz.Descriptor()
		u.OcclusionEnabled = 1
		u.HiZSize = [2]float32{float32(desc.Width), float32(desc.Height)}
	}
	if entry.Bindings.Texture(culling.BindingHiZ) != hiz {
		entry.Bindings.SetTexture(culling.BindingHiZ, hiz)
	}
	return u
}

// draw issues one indirect draw per material of every renderer that passes the camera's
// layer mask, for the opaque pass and then the shadow pass. The command index advances over
// filtered renderers too, so each draw reads the record the culling kernel filled for it.
func (s *renderingSystem) draw(data camera.CameraData, cb *camera.CommandBuffer) error {
	cam := data.Camera()
	mask := cam.CullingMask()
	var errs []error
	for _, g := range s.groups.Groups() {
		entry, ok := cb.Entries[g.Key()]
		if !ok || g.InstanceCount() == 0 || g.LODGroupData() == nil {
			continue
		}
		lodData := g.LODGroupData()
		lodCount := lodData.LODCount()
		clamp := s.lodClamp(g)

		passes := []renderer.RenderPass{renderer.RenderPassMain}
		if s.castsShadows(g) {
			passes = append(passes, renderer.RenderPassShadow)
		}
		for _, pass := range passes {
			passIndex := 0
			if pass == renderer.RenderPassShadow {
				passIndex = 1
			}
			cmd := entry.CommandStartIndex + passIndex*lodData.MaterialCount()
			for l, level := range lodData.Levels() {
				shift := uint32(g.BufferSize() * (l + passIndex*lodCount))
				for ri, rd := range level.Renderers {
					first := cmd
					cmd += rd.MaterialCount()
					if l < clamp || mask&(1<<uint(rd.Layer)) == 0 {
						continue
					}
					if (pass == renderer.RenderPassMain && !rd.DrawsMainPass()) || (pass == renderer.RenderPassShadow && !rd.CastsShadows()) {
						continue
					}
					mesh := rd.Mesh.Buffers()
					if !mesh.Valid() {
						continue
					}
					for m, mat := range rd.Materials {
						index := first + m
						dc := renderer.DrawCommand{
							PipelineKey:        common.Coalesce(mat.PipelineKey(), s.pipeline.PipelineKey()),
							Keywords:           g.Key().Keywords.Union(mat.Keywords()),
							Pass:               pass,
							Mesh:               mesh,
							ArgsBuffer:         cb.Args,
							ArgsOffset:         uint64(index * renderer.IndirectArgsStride),
							Instance:           entry.Instance,
							Material:           s.materialBlock(g, l, ri, m, mat, rd),
							View:               data.ViewBlock(),
							Layer:              rd.Layer,
							ShadowMode:         rd.ShadowMode,
							MotionVectors:      rd.MotionVectors,
							ReceiveShadows:     rd.ReceiveShadows,
							RenderingLayerMask: rd.RenderingLayerMask,
							BufferShift:        shift,
							CommandIndex:       index,
							CameraID:           cam.ID(),
						}
						if pass == renderer.RenderPassShadow {
							dc.ShadowMode = renderer.ShadowCastingShadowsOnly
						}
						if dc.MotionVectors == renderer.MotionVectorObject && g.PreviousTransformBuffer() == nil {
							dc.MotionVectors = renderer.MotionVectorCamera
						}
						if err := s.r.DrawIndirect(dc); err != nil {
							errs = append(errs, fmt.Errorf("%s command %d: %w", g.Key(), index, err))
							continue
						}
						if pass == renderer.RenderPassShadow {
							s.current.ShadowDrawCalls++
						} else {
							s.current.DrawCalls++
						}
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// materialBlock returns the cached draw block of a material: its properties, the renderer's
// local offset and the group's matching overrides. The block is rebuilt only when one of
// those inputs changed.
func (s *renderingSystem) materialBlock(g render_source.RenderSourceGroup, l, ri, m int, mat material.Material, rd lod.RendererDescriptor) property_block.PropertyBlock {
	key := materialBlockKey{group: g.Key(), lod: l, renderer: ri, slot: m}
	src := mat.Properties()
	gen := s.overrideGen[g.Key()]
	lodVersion := g.LODGroupData().Version()

	mb, ok := s.materialBlocks[key]
	if ok && mb.source == src && mb.version == src.Version() && mb.generation == gen && mb.lodVersion == lodVersion {
		return mb.block
	}
	if !ok {
		mb = &materialBlock{block: property_block.NewPropertyBlock(mat.Name() + " Instanced")}
		s.materialBlocks[key] = mb
	}
	mb.block.CopyFrom(src)
	offset := rd.Offset()
	mb.block.SetFloats(BindingLocalOffset, offset[:]...)
	render_source.ApplyOverrides(mb.block, g.Overrides(), l, ri)
	mb.source, mb.version, mb.generation, mb.lodVersion = src, src.Version(), gen, lodVersion
	return mb.block
}

func (s *renderingSystem) UpdateOcclusion(cam camera.Camera) error {
	if s.disposed {
		return ErrDisposed
	}
	if !s.settings.OcclusionCulling {
		return nil
	}
	data, ok := s.cameras.Resolve(cam)
	if !ok {
		return nil
	}
	depth := s.r.DepthTexture()
	if depth == nil {
		return nil
	}
	src := depth.Descriptor()
	desc := culling.HiZDescriptor(src.Width, src.Height)

	hiz := data.HiZ()
	created := false
	if hiz == nil || hiz.Descriptor().Width != desc.Width || hiz.Descriptor().Height != desc.Height {
		tex, err := s.r.CreateTexture(desc, nil)
		if err != nil {
			s.logger.Error("hi-z allocation failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
			return fmt.Errorf("camera %d hi-z: %w", cam.ID(), err)
		}
		hiz, created = tex, true
	}

	if err := s.r.BeginComputeFrame(); err != nil {
		if created {
			s.r.ReleaseTexture(hiz)
		}
		return err
	}
	err := s.r.DispatchCompute(renderer.ComputeDispatch{
		Label:       fmt.Sprintf("Camera %d Hi-Z", cam.ID()),
		PipelineKey: culling.HiZPipelineKey,
		Bindings: property_block.NewPropertyBlock("Hi-Z",
			property_block.WithTexture(culling.BindingDepth, depth),
			property_block.WithTexture(culling.BindingHiZOut, hiz),
		),
		WorkgroupCount: culling.HiZWorkgroupCount(desc),
	})
	s.r.EndComputeFrame()
	if err != nil {
		if created {
			s.r.ReleaseTexture(hiz)
		}
		s.logger.Error("hi-z reduction failed", zap.Int("camera_id", cam.ID()), zap.Error(err))
		return fmt.Errorf("camera %d hi-z: %w", cam.ID(), err)
	}
	s.current.Dispatches++
	data.SetHiZ(s.r, hiz, data.LastUpdateFrame())
	return nil
}
