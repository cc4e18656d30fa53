package rendering_system

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

func (s *renderingSystem) RegisterRenderer(owner any, proto Prototype, groupID int, bufferType render_source.TransformBufferType, keywords ...string) (int, error) {
	if s.disposed {
		return 0, ErrDisposed
	}
	if owner == nil {
		return 0, s.fail("register renderer", -1, ErrNilOwner)
	}
	if proto.LODGroupData == nil {
		return 0, s.fail("register renderer", -1, ErrNilLODGroupData)
	}
	if proto.Profile == nil {
		return 0, s.fail("register renderer", -1, ErrNilProfile)
	}
	if err := proto.Profile.Validate(); err != nil {
		return 0, s.fail("register renderer", -1, fmt.Errorf("profile: %w", err))
	}

	kw := shader.NewKeywordSet(keywords...).
		Toggle(shader.KeywordLODCrossFade, proto.Profile.LODCrossFade).
		Toggle(shader.KeywordPackedTransforms, bufferType == render_source.TransformBufferPacked3x4)
	key := common.Coalesce(proto.Key, proto.LODGroupData.Key())

	group, created, err := s.groups.GetOrCreate(key, proto.LODGroupData, proto.Profile, groupID, bufferType, kw)
	if err != nil {
		return 0, s.fail("register renderer", -1, err)
	}
	rollback := func(err error) (int, error) {
		if created {
			s.groups.Remove(group.Key())
		}
		return 0, s.fail("register renderer", -1, err)
	}
	if created {
		if err := s.uploadMeshes(proto.LODGroupData); err != nil {
			return rollback(err)
		}
		if err := s.setGroupParameters(group); err != nil {
			return rollback(err)
		}
	}

	src, err := s.sources.Register(owner, group, 0)
	if err != nil {
		return rollback(err)
	}
	s.dirty = true
	s.logger.Debug("renderer registered",
		zap.Int("renderer_key", src.Key),
		zap.Stringer("group", group.Key()),
		zap.Bool("group_created", created),
	)
	return src.Key, nil
}

// uploadMeshes uploads every mesh of the LOD data. Upload is a no-op for meshes that are
// already resident; meshes are shared between prototypes and never released here.
func (s *renderingSystem) uploadMeshes(data lod.LODGroupData) error {
	for _, level := range data.Levels() {
		for _, rd := range level.Renderers {
			if rd.Mesh == nil {
				continue
			}
			if err := rd.Mesh.Upload(s.r); err != nil {
				return fmt.Errorf("upload mesh %s: %w", rd.Mesh.Name(), err)
			}
		}
	}
	return nil
}

// setGroupParameters writes the profile and LOD slices of a group into the parameter buffer.
func (s *renderingSystem) setGroupParameters(g render_source.RenderSourceGroup) error {
	if _, err := s.params.Set(g.Profile().OwnerKey(), g.Profile().Parameters()); err != nil {
		return fmt.Errorf("profile parameters: %w", err)
	}
	data := g.LODGroupData()
	if _, err := s.params.Set(data.OwnerKey(), data.Parameters()); err != nil {
		return fmt.Errorf("lod parameters: %w", err)
	}
	s.lodVersions[data.OwnerKey()] = data.Version()
	return nil
}

// syncParameters rewrites LOD slices whose data was regenerated and uploads the buffer.
func (s *renderingSystem) syncParameters() error {
	for _, g := range s.groups.Groups() {
		data := g.LODGroupData()
		if data == nil {
			continue
		}
		if v, ok := s.lodVersions[data.OwnerKey()]; ok && v == data.Version() {
			continue
		}
		if _, err := s.params.Set(data.OwnerKey(), data.Parameters()); err != nil {
			return fmt.Errorf("%s: lod parameters: %w", g.Key(), err)
		}
		s.lodVersions[data.OwnerKey()] = data.Version()
		s.dirty = true
	}
	if err := s.params.Upload(s.r); err != nil {
		return err
	}
	if s.params.Buffer() != s.paramsBuffer {
		s.paramsBuffer = s.params.Buffer()
		s.dirty = true
	}
	return nil
}

// lookup resolves a renderer key, mapping provider errors to ErrUnknownRenderer.
func (s *renderingSystem) lookup(op string, key int) (*render_source.RenderSource, render_source.RenderSourceGroup, error) {
	if s.disposed {
		return nil, nil, ErrDisposed
	}
	src, g, err := s.sources.Source(key)
	if err != nil {
		return nil, nil, s.fail(op, key, fmt.Errorf("%w: %w", ErrUnknownRenderer, err))
	}
	return src, g, nil
}

func (s *renderingSystem) SetBufferSize(key, size int, copyPrevious bool) error {
	src, g, err := s.lookup("set buffer size", key)
	if err != nil {
		return err
	}
	if size < 0 || size > s.settings.MaxBufferSize {
		return s.fail("set buffer size", key, fmt.Errorf("size %d, max %d: %w", size, s.settings.MaxBufferSize, ErrBufferSizeExceeded))
	}
	if size == src.BufferSize {
		return nil
	}
	if err := g.SetSourceBufferSize(key, size, copyPrevious); err != nil {
		s.dirty = true
		return s.fail("set buffer size", key, err)
	}
	s.dirty = true
	return nil
}

func (s *renderingSystem) SetInstanceCount(key, count int) error {
	src, g, err := s.lookup("set instance count", key)
	if err != nil {
		return err
	}
	if count < 0 || count > src.BufferSize {
		return s.fail("set instance count", key, fmt.Errorf("count %d, buffer size %d: %w", count, src.BufferSize, ErrInstanceCountOutOfRange))
	}
	if count == src.InstanceCount {
		return nil
	}
	if err := g.SetSourceInstanceCount(key, count); err != nil {
		return s.fail("set instance count", key, err)
	}
	return nil
}

func (s *renderingSystem) SetTransformBufferData(key int, matrices []mgl32.Mat4, managedStart, gpuStart, count int, overwritePreviousFrame bool) error {
	_, g, err := s.lookup("set transform buffer data", key)
	if err != nil {
		return err
	}
	if err := g.WriteTransforms(key, matrices, managedStart, gpuStart, count, overwritePreviousFrame); err != nil {
		return s.fail("set transform buffer data", key, err)
	}
	return nil
}

func (s *renderingSystem) AddMaterialPropertyOverride(key, binding int, value any, lodIndex, rendererIndex int) error {
	_, g, err := s.lookup("add material property override", key)
	if err != nil {
		return err
	}
	o := render_source.PropertyOverride{Binding: binding, Value: value, LODIndex: lodIndex, RendererIndex: rendererIndex}
	if err := g.AddOverride(o); err != nil {
		return s.fail("add material property override", key, err)
	}
	s.overrideGen[g.Key()]++
	return nil
}

func (s *renderingSystem) ClearMaterialPropertyOverrides(key int) error {
	_, g, err := s.lookup("clear material property overrides", key)
	if err != nil {
		return err
	}
	if len(g.Overrides()) == 0 {
		return nil
	}
	g.ClearOverrides()
	s.overrideGen[g.Key()]++
	return nil
}

func (s *renderingSystem) UpdateProfile(key int, p *profile.Profile) error {
	_, g, err := s.lookup("update profile", key)
	if err != nil {
		return err
	}
	if p == nil {
		return s.fail("update profile", key, ErrNilProfile)
	}
	if err := p.Validate(); err != nil {
		return s.fail("update profile", key, fmt.Errorf("profile: %w", err))
	}
	before, owner := g.LayoutVersion(), g.Profile().OwnerKey()
	g.SetProfile(p)
	if _, err := s.params.Set(p.OwnerKey(), p.Parameters()); err != nil {
		return s.fail("update profile", key, fmt.Errorf("profile parameters: %w", err))
	}
	if g.LayoutVersion() != before || p.OwnerKey() != owner {
		s.dirty = true
	}
	return nil
}

func (s *renderingSystem) DisposeRenderer(key int) error {
	_, g, err := s.lookup("dispose renderer", key)
	if err != nil {
		return err
	}
	groupKey := g.Key()
	groupDisposed, err := s.sources.Dispose(key)
	if groupDisposed {
		s.forgetGroup(groupKey)
	}
	s.dirty = true
	if err != nil && !errors.Is(err, render_source.ErrUnknownSource) {
		return s.fail("dispose renderer", key, err)
	}
	s.logger.Debug("renderer disposed", zap.Int("renderer_key", key), zap.Bool("group_disposed", groupDisposed))
	return nil
}

// forgetGroup drops the cached material blocks of a disposed group.
func (s *renderingSystem) forgetGroup(key render_source.GroupKey) {
	for k := range s.materialBlocks {
		if k.group == key {
			delete(s.materialBlocks, k)
		}
	}
	delete(s.overrideGen, key)
}

func (s *renderingSystem) RenderSourceInfo(key int) (render_source.RenderSource, error) {
	src, _, err := s.lookup("render source info", key)
	if err != nil {
		return render_source.RenderSource{}, err
	}
	return *src, nil
}
