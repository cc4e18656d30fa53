package render_source

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"go.uber.org/zap"
)

// renderSourceGroupProvider is the implementation of the RenderSourceGroupProvider interface.
type renderSourceGroupProvider struct {
	renderer      renderer.Renderer
	logger        *zap.Logger
	motionVectors bool
	groups        map[GroupKey]*renderSourceGroup
	order         []GroupKey
}

// RenderSourceGroupProvider owns every RenderSourceGroup by key and iterates them in creation
// order, which the per-camera command layout depends on.
type RenderSourceGroupProvider interface {
	// GetOrCreate returns the group for the key tuple, creating it on first use.
	//
	// Parameters:
	//   - prototypeKey: the prototype identifier
	//   - lodData: the LOD data for a new group
	//   - prof: the profile for a new group
	//   - groupID: the caller-chosen group discriminator
	//   - bufferType: the transform layout
	//   - keywords: the shader keywords of the group
	//
	// Returns:
	//   - RenderSourceGroup: the group
	//   - bool: true if the group was created by this call
	//   - error: ErrNilLODGroupData or ErrNilProfile; nothing is created on error
	GetOrCreate(prototypeKey string, lodData lod.LODGroupData, prof *profile.Profile, groupID int, bufferType TransformBufferType, keywords shader.KeywordSet) (RenderSourceGroup, bool, error)

	// Group returns a group by key.
	//
	// Parameters:
	//   - key: the group key
	//
	// Returns:
	//   - RenderSourceGroup: the group
	//   - bool: false if no such group exists
	Group(key GroupKey) (RenderSourceGroup, bool)

	// Groups returns the groups in creation order.
	//
	// Returns:
	//   - []RenderSourceGroup: the groups
	Groups() []RenderSourceGroup

	// Len returns the number of groups.
	Len() int

	// Remove disposes a group and forgets it.
	//
	// Parameters:
	//   - key: the group key
	Remove(key GroupKey)

	// SetMotionVectors toggles previous-frame transform buffers for groups that want them.
	//
	// Parameters:
	//   - enabled: the global motion vector setting
	//
	// Returns:
	//   - error: the first buffer creation error
	SetMotionVectors(enabled bool) error

	// Dispose disposes every group.
	Dispose()
}

var _ RenderSourceGroupProvider = &renderSourceGroupProvider{}

// NewRenderSourceGroupProvider creates an empty group provider.
//
// Parameters:
//   - r: the renderer that owns every group buffer
//   - options: variadic list of ProviderBuilderOption functions
//
// Returns:
//   - RenderSourceGroupProvider: the provider
func NewRenderSourceGroupProvider(r renderer.Renderer, options ...ProviderBuilderOption) RenderSourceGroupProvider {
	if r == nil {
		panic("render source group provider requires a renderer")
	}
	p := &renderSourceGroupProvider{
		renderer: r,
		logger:   zap.NewNop(),
		groups:   make(map[GroupKey]*renderSourceGroup),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *renderSourceGroupProvider) GetOrCreate(prototypeKey string, lodData lod.LODGroupData, prof *profile.Profile, groupID int, bufferType TransformBufferType, keywords shader.KeywordSet) (RenderSourceGroup, bool, error) {
	key := GroupKey{PrototypeKey: prototypeKey, GroupID: groupID, BufferType: bufferType, Keywords: keywords}
	if g, ok := p.groups[key]; ok {
		return g, false, nil
	}
	if lodData == nil {
		return nil, false, fmt.Errorf("group %s: %w", key, ErrNilLODGroupData)
	}
	if prof == nil {
		return nil, false, fmt.Errorf("group %s: %w", key, ErrNilProfile)
	}

	g := newRenderSourceGroup(key, p.renderer, lodData, prof, p.motionVectors && wantsMotionVectors(lodData), p.logger)
	p.groups[key] = g
	p.order = append(p.order, key)
	p.logger.Debug("render source group created", zap.String("group", key.String()))
	return g, true, nil
}

func (p *renderSourceGroupProvider) Group(key GroupKey) (RenderSourceGroup, bool) {
	g, ok := p.groups[key]
	if !ok {
		return nil, false
	}
	return g, true
}

func (p *renderSourceGroupProvider) Groups() []RenderSourceGroup {
	out := make([]RenderSourceGroup, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.groups[key])
	}
	return out
}

func (p *renderSourceGroupProvider) Len() int {
	return len(p.order)
}

func (p *renderSourceGroupProvider) Remove(key GroupKey) {
	g, ok := p.groups[key]
	if !ok {
		return
	}
	g.Dispose()
	delete(p.groups, key)
	p.order = slices.DeleteFunc(p.order, func(k GroupKey) bool { return k == key })
	p.logger.Debug("render source group disposed", zap.String("group", key.String()))
}

func (p *renderSourceGroupProvider) SetMotionVectors(enabled bool) error {
	p.motionVectors = enabled
	for _, key := range p.order {
		g := p.groups[key]
		if err := g.SetMotionVectors(enabled && wantsMotionVectors(g.lodData)); err != nil {
			return err
		}
	}
	return nil
}

func (p *renderSourceGroupProvider) Dispose() {
	for _, key := range p.order {
		p.groups[key].Dispose()
	}
	clear(p.groups)
	p.order = nil
}

// wantsMotionVectors reports whether any renderer uses per-object motion vectors.
func wantsMotionVectors(data lod.LODGroupData) bool {
	if data == nil {
		return false
	}
	for _, l := range data.Levels() {
		for _, r := range l.Renderers {
			if r.MotionVectors == renderer.MotionVectorObject {
				return true
			}
		}
	}
	return false
}

// renderSourceProvider is the implementation of the RenderSourceProvider interface.
type renderSourceProvider struct {
	groups  RenderSourceGroupProvider
	index   map[int]GroupKey
	nextKey int
}

// RenderSourceProvider hands out renderer keys and maps each key to the group that owns its
// source. Sources live inside their group; the provider only stores the key relation.
type RenderSourceProvider interface {
	// GroupProvider returns the group provider the sources live in.
	GroupProvider() RenderSourceGroupProvider

	// Register creates a source in a group with a fresh renderer key.
	//
	// Parameters:
	//   - owner: the registering object
	//   - group: the owning group
	//   - bufferSize: the initial slot count
	//
	// Returns:
	//   - *RenderSource: the registered source
	//   - error: a buffer reallocation error; the key is not allocated on error
	Register(owner any, group RenderSourceGroup, bufferSize int) (*RenderSource, error)

	// Source resolves a renderer key.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - *RenderSource: the source
	//   - RenderSourceGroup: the owning group
	//   - error: ErrUnknownSource
	Source(key int) (*RenderSource, RenderSourceGroup, error)

	// Dispose removes a source and disposes its group when it was the last source.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - bool: true if the group was disposed
	//   - error: ErrUnknownSource
	Dispose(key int) (bool, error)

	// Keys returns every registered renderer key in ascending order.
	Keys() []int

	// Len returns the number of registered sources.
	Len() int

	// DisposeAll removes every source and group.
	DisposeAll()
}

var _ RenderSourceProvider = &renderSourceProvider{}

// NewRenderSourceProvider creates a source provider over a group provider.
//
// Parameters:
//   - groups: the group provider
//
// Returns:
//   - RenderSourceProvider: the provider
func NewRenderSourceProvider(groups RenderSourceGroupProvider) RenderSourceProvider {
	return &renderSourceProvider{
		groups:  groups,
		index:   make(map[int]GroupKey),
		nextKey: 1,
	}
}

func (p *renderSourceProvider) GroupProvider() RenderSourceGroupProvider {
	return p.groups
}

func (p *renderSourceProvider) Register(owner any, group RenderSourceGroup, bufferSize int) (*RenderSource, error) {
	src := &RenderSource{Key: p.nextKey, Owner: owner, BufferSize: max(bufferSize, 0)}
	if err := group.AddRenderSource(src); err != nil {
		if _, rmErr := group.RemoveRenderSource(src.Key); rmErr != nil && !errors.Is(rmErr, ErrUnknownSource) {
			return nil, fmt.Errorf("%w (rollback: %v)", err, rmErr)
		}
		return nil, err
	}
	p.nextKey++
	p.index[src.Key] = group.Key()
	return src, nil
}

func (p *renderSourceProvider) Source(key int) (*RenderSource, RenderSourceGroup, error) {
	groupKey, ok := p.index[key]
	if !ok {
		return nil, nil, fmt.Errorf("key %d: %w", key, ErrUnknownSource)
	}
	g, ok := p.groups.Group(groupKey)
	if !ok {
		delete(p.index, key)
		return nil, nil, fmt.Errorf("key %d group %s: %w", key, groupKey, ErrUnknownGroup)
	}
	src, ok := g.Source(key)
	if !ok {
		delete(p.index, key)
		return nil, nil, fmt.Errorf("key %d: %w", key, ErrUnknownSource)
	}
	return src, g, nil
}

func (p *renderSourceProvider) Dispose(key int) (bool, error) {
	_, g, err := p.Source(key)
	if err != nil {
		return false, err
	}
	delete(p.index, key)
	empty, err := g.RemoveRenderSource(key)
	if empty {
		p.groups.Remove(g.Key())
		return true, nil
	}
	return false, err
}

func (p *renderSourceProvider) Keys() []int {
	keys := make([]int, 0, len(p.index))
	for k := range p.index {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *renderSourceProvider) Len() int {
	return len(p.index)
}

func (p *renderSourceProvider) DisposeAll() {
	clear(p.index)
	p.groups.Dispose()
}
