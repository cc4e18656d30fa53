package render_source

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/profile"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// RangeStride is the byte size of one (start, count) entry in the source ranges buffer.
const RangeStride = 8

// renderSourceGroup is the implementation of the RenderSourceGroup interface.
type renderSourceGroup struct {
	key           GroupKey
	renderer      renderer.Renderer
	logger        *zap.Logger
	lodData       lod.LODGroupData
	prof          *profile.Profile
	motionVectors bool

	sources       []*RenderSource
	bufferSize    int
	instanceCount int

	transforms *resource.Buffer
	previous   *resource.Buffer
	ranges     *resource.Buffer

	overrides     []PropertyOverride
	layoutVersion uint64
	disposed      bool
}

// RenderSourceGroup aggregates every RenderSource sharing a GroupKey. It owns the GPU transform
// buffer (BufferSize slots), the optional previous-frame transform buffer used for motion
// vectors, the source ranges buffer read by the culling kernel, and the material property
// overrides. Sources are kept in registration order and packed back to back.
type RenderSourceGroup interface {
	// Key returns the group key.
	//
	// Returns:
	//   - GroupKey: the key the group was created with
	Key() GroupKey

	// LODGroupData returns the shared LOD data, or nil once cleared.
	//
	// Returns:
	//   - lod.LODGroupData: the LOD data
	LODGroupData() lod.LODGroupData

	// SetLODGroupData replaces the LOD data and marks the layout changed.
	//
	// Parameters:
	//   - data: the new LOD data, or nil to disable drawing
	SetLODGroupData(data lod.LODGroupData)

	// Profile returns the culling profile.
	//
	// Returns:
	//   - *profile.Profile: the profile
	Profile() *profile.Profile

	// SetProfile replaces the profile. A change of ShadowCasting changes the visibility layout
	// and marks the layout changed.
	//
	// Parameters:
	//   - p: the new profile
	SetProfile(p *profile.Profile)

	// BufferSize returns the sum of every source's BufferSize.
	//
	// Returns:
	//   - int: the number of transform slots
	BufferSize() int

	// InstanceCount returns the sum of every source's InstanceCount.
	//
	// Returns:
	//   - int: the number of live instances
	InstanceCount() int

	// Sources returns the sources in registration order.
	//
	// Returns:
	//   - []*RenderSource: the sources
	Sources() []*RenderSource

	// Source returns a source by renderer key.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - *RenderSource: the source
	//   - bool: false if the group has no such source
	Source(key int) (*RenderSource, bool)

	// ShadowEnabled reports whether the profile casts shadows, doubling the visibility layout.
	//
	// Returns:
	//   - bool: true when the shadow half of the layout exists
	ShadowEnabled() bool

	// PassCount returns 2 when shadows are enabled, otherwise 1.
	//
	// Returns:
	//   - int: the number of visibility halves
	PassCount() int

	// LODCount returns the LOD count, or 0 without LOD data.
	//
	// Returns:
	//   - int: the LOD count
	LODCount() int

	// CommandCount returns the number of indirect commands the group occupies per camera.
	//
	// Returns:
	//   - int: material count times PassCount
	CommandCount() int

	// VisibilityLength returns the number of uint32 entries of the group's visibility buffer.
	//
	// Returns:
	//   - int: BufferSize * LODCount * PassCount
	VisibilityLength() int

	// TransformBuffer returns the GPU transform buffer, or nil while BufferSize is zero.
	//
	// Returns:
	//   - *resource.Buffer: the transform buffer
	TransformBuffer() *resource.Buffer

	// PreviousTransformBuffer returns the previous-frame transform buffer, or nil when the group
	// does not track motion vectors.
	//
	// Returns:
	//   - *resource.Buffer: the previous-frame buffer
	PreviousTransformBuffer() *resource.Buffer

	// RangesBuffer returns the buffer of (start, count) pairs, one per source.
	//
	// Returns:
	//   - *resource.Buffer: the ranges buffer
	RangesBuffer() *resource.Buffer

	// LayoutVersion increments whenever buffers are reallocated or the visibility layout changes.
	//
	// Returns:
	//   - uint64: the layout version
	LayoutVersion() uint64

	// AddRenderSource appends a source, assigns its range and reallocates the buffers. Existing
	// sources keep their data.
	//
	// Parameters:
	//   - src: the source to add
	//
	// Returns:
	//   - error: an error if the buffers cannot be reallocated
	AddRenderSource(src *RenderSource) error

	// RemoveRenderSource removes a source and packs the remaining ranges.
	//
	// Parameters:
	//   - key: the renderer key
	//
	// Returns:
	//   - bool: true if the group is now empty
	//   - error: ErrUnknownSource or a reallocation error
	RemoveRenderSource(key int) (bool, error)

	// SetSourceBufferSize resizes one source's range. Other sources keep their data; the resized
	// source keeps min(old, new) instances when copyPrevious is set. InstanceCount is clamped to
	// the new size.
	//
	// Parameters:
	//   - key: the renderer key
	//   - size: the new slot count
	//   - copyPrevious: true to preserve the source's existing transforms
	//
	// Returns:
	//   - error: ErrUnknownSource or a reallocation error
	SetSourceBufferSize(key, size int, copyPrevious bool) error

	// SetSourceInstanceCount sets a source's live instance count. The caller validates the range.
	//
	// Parameters:
	//   - key: the renderer key
	//   - count: the live instance count
	//
	// Returns:
	//   - error: ErrUnknownSource or a ranges upload error
	SetSourceInstanceCount(key, count int) error

	// WriteTransforms uploads matrices[managedStart:managedStart+count] to the source's slots
	// starting at gpuStart.
	//
	// Parameters:
	//   - key: the renderer key
	//   - matrices: the managed transform array
	//   - managedStart: the first matrix to upload
	//   - gpuStart: the first source-relative slot to write
	//   - count: the number of matrices
	//   - overwritePrevious: true to also write the previous-frame buffer
	//
	// Returns:
	//   - error: ErrUnknownSource, ErrRangeOutOfBounds or a write error
	WriteTransforms(key int, matrices []mgl32.Mat4, managedStart, gpuStart, count int, overwritePrevious bool) error

	// SetMotionVectors creates or releases the previous-frame transform buffer.
	//
	// Parameters:
	//   - enabled: true to track motion vectors
	//
	// Returns:
	//   - error: an error if the buffer cannot be created
	SetMotionVectors(enabled bool) error

	// CopyToPrevious copies the transform buffer into the previous-frame buffer.
	//
	// Returns:
	//   - error: a copy error
	CopyToPrevious() error

	// AddOverride validates and appends a material property override.
	//
	// Parameters:
	//   - o: the override
	//
	// Returns:
	//   - error: ErrUnsupportedValue
	AddOverride(o PropertyOverride) error

	// ClearOverrides removes every material property override.
	ClearOverrides()

	// Overrides returns the material property overrides in insertion order.
	//
	// Returns:
	//   - []PropertyOverride: the overrides
	Overrides() []PropertyOverride

	// Dispose releases every GPU buffer. Safe to call twice.
	Dispose()

	// Disposed reports whether Dispose was called.
	Disposed() bool
}

var _ RenderSourceGroup = &renderSourceGroup{}

func newRenderSourceGroup(key GroupKey, r renderer.Renderer, lodData lod.LODGroupData, prof *profile.Profile, motionVectors bool, logger *zap.Logger) *renderSourceGroup {
	return &renderSourceGroup{
		key:           key,
		renderer:      r,
		logger:        logger,
		lodData:       lodData,
		prof:          prof,
		motionVectors: motionVectors,
	}
}

func (g *renderSourceGroup) Key() GroupKey {
	return g.key
}

func (g *renderSourceGroup) LODGroupData() lod.LODGroupData {
	return g.lodData
}

func (g *renderSourceGroup) SetLODGroupData(data lod.LODGroupData) {
	g.lodData = data
	g.layoutVersion++
}

func (g *renderSourceGroup) Profile() *profile.Profile {
	return g.prof
}

func (g *renderSourceGroup) SetProfile(p *profile.Profile) {
	if p == nil {
		return
	}
	shadowChanged := g.prof == nil || g.prof.ShadowCasting != p.ShadowCasting
	g.prof = p
	if shadowChanged {
		g.layoutVersion++
	}
}

func (g *renderSourceGroup) BufferSize() int {
	return g.bufferSize
}

func (g *renderSourceGroup) InstanceCount() int {
	return g.instanceCount
}

func (g *renderSourceGroup) Sources() []*RenderSource {
	return g.sources
}

func (g *renderSourceGroup) Source(key int) (*RenderSource, bool) {
	i := g.indexOf(key)
	if i < 0 {
		return nil, false
	}
	return g.sources[i], true
}

func (g *renderSourceGroup) ShadowEnabled() bool {
	return g.prof != nil && g.prof.ShadowCasting
}

func (g *renderSourceGroup) PassCount() int {
	if g.ShadowEnabled() {
		return 2
	}
	return 1
}

func (g *renderSourceGroup) LODCount() int {
	if g.lodData == nil {
		return 0
	}
	return g.lodData.LODCount()
}

func (g *renderSourceGroup) CommandCount() int {
	if g.lodData == nil {
		return 0
	}
	return g.lodData.MaterialCount() * g.PassCount()
}

func (g *renderSourceGroup) VisibilityLength() int {
	return g.bufferSize * g.LODCount() * g.PassCount()
}

func (g *renderSourceGroup) TransformBuffer() *resource.Buffer {
	return g.transforms
}

func (g *renderSourceGroup) PreviousTransformBuffer() *resource.Buffer {
	return g.previous
}

func (g *renderSourceGroup) RangesBuffer() *resource.Buffer {
	return g.ranges
}

func (g *renderSourceGroup) LayoutVersion() uint64 {
	return g.layoutVersion
}

func (g *renderSourceGroup) AddRenderSource(src *RenderSource) error {
	preserve := g.preserveAll()
	src.Group = g.key
	src.InstanceCount = min(src.InstanceCount, src.BufferSize)
	g.sources = append(g.sources, src)
	committed, err := g.relayout(preserve)
	if err != nil && !committed {
		g.sources = g.sources[:len(g.sources)-1]
	}
	return err
}

func (g *renderSourceGroup) RemoveRenderSource(key int) (bool, error) {
	i := g.indexOf(key)
	if i < 0 {
		return len(g.sources) == 0, fmt.Errorf("%s: key %d: %w", g.key, key, ErrUnknownSource)
	}
	preserve := g.preserveAll()
	removed := g.sources[i]
	g.sources = slices.Delete(g.sources, i, i+1)
	if len(g.sources) == 0 {
		g.recount()
		return true, nil
	}
	committed, err := g.relayout(preserve)
	if err != nil && !committed {
		g.sources = slices.Insert(g.sources, i, removed)
	}
	return false, err
}

func (g *renderSourceGroup) SetSourceBufferSize(key, size int, copyPrevious bool) error {
	i := g.indexOf(key)
	if i < 0 {
		return fmt.Errorf("%s: key %d: %w", g.key, key, ErrUnknownSource)
	}
	src := g.sources[i]
	preserve := g.preserveAll()
	if copyPrevious {
		preserve[key] = min(src.BufferSize, size)
	} else {
		delete(preserve, key)
	}
	oldSize, oldCount := src.BufferSize, src.InstanceCount
	src.BufferSize = size
	src.InstanceCount = min(src.InstanceCount, size)
	committed, err := g.relayout(preserve)
	if err != nil && !committed {
		src.BufferSize, src.InstanceCount = oldSize, oldCount
	}
	return err
}

func (g *renderSourceGroup) SetSourceInstanceCount(key, count int) error {
	i := g.indexOf(key)
	if i < 0 {
		return fmt.Errorf("%s: key %d: %w", g.key, key, ErrUnknownSource)
	}
	g.sources[i].InstanceCount = count
	g.recount()
	return g.writeRanges()
}

func (g *renderSourceGroup) WriteTransforms(key int, matrices []mgl32.Mat4, managedStart, gpuStart, count int, overwritePrevious bool) error {
	i := g.indexOf(key)
	if i < 0 {
		return fmt.Errorf("%s: key %d: %w", g.key, key, ErrUnknownSource)
	}
	src := g.sources[i]
	if managedStart < 0 || gpuStart < 0 || count < 0 || managedStart+count > len(matrices) || gpuStart+count > src.BufferSize {
		return fmt.Errorf("%s: key %d: managed [%d,%d) of %d, gpu [%d,%d) of %d: %w",
			g.key, key, managedStart, managedStart+count, len(matrices), gpuStart, gpuStart+count, src.BufferSize, ErrRangeOutOfBounds)
	}
	if count == 0 {
		return nil
	}

	stride := g.key.BufferType.Stride()
	data := make([]byte, count*stride)
	for j := range count {
		m := matrices[managedStart+j]
		if g.key.BufferType == TransformBufferPacked3x4 {
			common.PutMatrix3x4(data[j*stride:], m)
		} else {
			common.PutMatrix4x4(data[j*stride:], m)
		}
	}
	offset := uint64((src.BufferStartIndex + gpuStart) * stride)
	if err := g.renderer.WriteBuffer(g.transforms, offset, data); err != nil {
		return fmt.Errorf("%s: write transforms: %w", g.key, err)
	}
	if overwritePrevious && g.previous != nil {
		if err := g.renderer.WriteBuffer(g.previous, offset, data); err != nil {
			return fmt.Errorf("%s: write previous transforms: %w", g.key, err)
		}
	}
	return nil
}

func (g *renderSourceGroup) SetMotionVectors(enabled bool) error {
	if enabled == g.motionVectors {
		return nil
	}
	g.motionVectors = enabled
	if !enabled {
		g.renderer.ReleaseBuffer(g.previous)
		g.previous = nil
		g.layoutVersion++
		return nil
	}
	if g.bufferSize == 0 {
		return nil
	}
	prev, err := g.createTransformBuffer("Previous Transforms", g.bufferSize)
	if err != nil {
		g.motionVectors = false
		return err
	}
	g.previous = prev
	g.layoutVersion++
	return g.CopyToPrevious()
}

func (g *renderSourceGroup) CopyToPrevious() error {
	if g.previous == nil || g.transforms == nil {
		return nil
	}
	return g.renderer.CopyBuffer(g.transforms, 0, g.previous, 0, g.transforms.Size())
}

func (g *renderSourceGroup) AddOverride(o PropertyOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	g.overrides = append(g.overrides, o)
	return nil
}

func (g *renderSourceGroup) ClearOverrides() {
	g.overrides = nil
}

func (g *renderSourceGroup) Overrides() []PropertyOverride {
	return g.overrides
}

func (g *renderSourceGroup) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true
	g.releaseBuffers()
	g.sources = nil
	g.recount()
	g.layoutVersion++
}

func (g *renderSourceGroup) Disposed() bool {
	return g.disposed
}

func (g *renderSourceGroup) indexOf(key int) int {
	return slices.IndexFunc(g.sources, func(s *RenderSource) bool { return s.Key == key })
}

func (g *renderSourceGroup) recount() {
	g.bufferSize, g.instanceCount = 0, 0
	for _, s := range g.sources {
		g.bufferSize += s.BufferSize
		g.instanceCount += s.InstanceCount
	}
}

// preserveAll returns the copy plan that keeps every source's current data.
func (g *renderSourceGroup) preserveAll() map[int]int {
	plan := make(map[int]int, len(g.sources))
	for _, s := range g.sources {
		plan[s.Key] = s.BufferSize
	}
	return plan
}

// relayout packs the source ranges back to back, reallocates the buffers and copies the
// preserved prefix of each source from its old range. The new buffers are created before any
// group state changes; committed is false when that allocation failed and the group still
// holds its old layout and buffers.
func (g *renderSourceGroup) relayout(preserve map[int]int) (committed bool, err error) {
	bufferSize := 0
	for _, s := range g.sources {
		bufferSize += s.BufferSize
	}
	var transforms, previous *resource.Buffer
	if bufferSize > 0 {
		if transforms, err = g.createTransformBuffer("Transforms", bufferSize); err != nil {
			return false, err
		}
		if g.motionVectors {
			if previous, err = g.createTransformBuffer("Previous Transforms", bufferSize); err != nil {
				g.renderer.ReleaseBuffer(transforms)
				return false, err
			}
		}
	}

	oldStarts := make(map[int]int, len(g.sources))
	start := 0
	for _, s := range g.sources {
		oldStarts[s.Key] = s.BufferStartIndex
		s.BufferStartIndex = start
		start += s.BufferSize
	}
	g.recount()
	g.layoutVersion++

	oldTransforms, oldPrevious := g.transforms, g.previous
	g.transforms, g.previous = transforms, previous
	defer func() {
		g.renderer.ReleaseBuffer(oldTransforms)
		g.renderer.ReleaseBuffer(oldPrevious)
	}()

	if g.transforms != nil {
		stride := uint64(g.key.BufferType.Stride())
		var errs []error
		for _, s := range g.sources {
			n := preserve[s.Key]
			oldStart, existed := oldStarts[s.Key]
			if n <= 0 || !existed {
				continue
			}
			src, dst, size := uint64(oldStart)*stride, uint64(s.BufferStartIndex)*stride, uint64(n)*stride
			if oldTransforms.Valid() && src+size <= oldTransforms.Size() {
				errs = append(errs, g.renderer.CopyBuffer(oldTransforms, src, g.transforms, dst, size))
			}
			if g.previous != nil && oldPrevious.Valid() && src+size <= oldPrevious.Size() {
				errs = append(errs, g.renderer.CopyBuffer(oldPrevious, src, g.previous, dst, size))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return true, fmt.Errorf("%s: preserve transforms: %w", g.key, err)
		}
	}

	g.logger.Debug("render source group relayout",
		zap.String("group", g.key.String()),
		zap.Int("buffer_size", g.bufferSize),
		zap.Int("sources", len(g.sources)),
	)
	return true, g.writeRanges()
}

func (g *renderSourceGroup) createTransformBuffer(label string, slots int) (*resource.Buffer, error) {
	size := uint64(slots * g.key.BufferType.Stride())
	buf, err := g.renderer.CreateBuffer(g.key.String()+" "+label, size,
		resource.BufferUsageStorage|resource.BufferUsageCopyDst|resource.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("%s: create %s: %w", g.key, label, err)
	}
	return buf, nil
}

func (g *renderSourceGroup) writeRanges() error {
	data := make([]uint32, 0, max(len(g.sources), 1)*2)
	for _, s := range g.sources {
		data = append(data, uint32(s.BufferStartIndex), uint32(s.InstanceCount))
	}
	if len(data) == 0 {
		data = append(data, 0, 0)
	}
	size := uint64(len(data) * 4)
	if !g.ranges.Valid() || g.ranges.Size() < size {
		g.renderer.ReleaseBuffer(g.ranges)
		buf, err := g.renderer.CreateBuffer(g.key.String()+" Source Ranges", size, resource.BufferUsageStorage|resource.BufferUsageCopyDst)
		if err != nil {
			g.ranges = nil
			return fmt.Errorf("%s: create ranges: %w", g.key, err)
		}
		g.ranges = buf
		g.layoutVersion++
	}
	return g.renderer.WriteBuffer(g.ranges, 0, common.Uint32sToBytes(data))
}

func (g *renderSourceGroup) releaseBuffers() {
	g.renderer.ReleaseBuffer(g.transforms)
	g.renderer.ReleaseBuffer(g.previous)
	g.renderer.ReleaseBuffer(g.ranges)
	g.transforms, g.previous, g.ranges = nil, nil, nil
}
