package lod

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
)

// MaxLevels is the largest LOD count a group may hold. Visibility layouts and the culling
// uniforms reserve this many slots.
const MaxLevels = 8

// ParameterCount is the number of floats LOD group data occupies in the parameter buffer.
const ParameterCount = 16

// Offsets of each field within the LOD parameter buffer slice.
const (
	ParamLODCount         = 0
	ParamTransitionStart  = 1 // MaxLevels transition distances follow
	ParamBoundsCenter     = ParamTransitionStart + MaxLevels
	ParamBoundsExtents    = ParamBoundsCenter + 3
	ParamBoundsRadiusHint = ParamBoundsExtents + 3
)

var (
	// ErrNoLevels is returned when LOD group data has no levels.
	ErrNoLevels = errors.New("lod: at least one level is required")
	// ErrTooManyLevels is returned when more than MaxLevels levels are supplied.
	ErrTooManyLevels = errors.New("lod: too many levels")
	// ErrTransitionOrder is returned when transition distances are not strictly increasing.
	ErrTransitionOrder = errors.New("lod: transition distances must be strictly increasing")
	// ErrNoRenderers is returned when a level has no renderers.
	ErrNoRenderers = errors.New("lod: level has no renderers")
	// ErrNilMesh is returned when a renderer has no mesh.
	ErrNilMesh = errors.New("lod: renderer has no mesh")
	// ErrNoMaterials is returned when a renderer has no materials.
	ErrNoMaterials = errors.New("lod: renderer has no materials")
	// ErrTooManyMaterials is returned when a renderer has more materials than submeshes.
	ErrTooManyMaterials = errors.New("lod: more materials than submeshes")
	// ErrNilMaterial is returned when a renderer's material list contains nil.
	ErrNilMaterial = errors.New("lod: nil material")
)

// lodGroupData is the implementation of the LODGroupData interface.
type lodGroupData struct {
	key     string
	levels  []Level
	offsets []int
	total   int
	bounds  common.Bounds
	version uint64
}

// LODGroupData is the static LOD description of a prototype: ordered levels (0 = nearest),
// each with its renderers and transition distance. It is immutable except through Regenerate.
//
// The indirect command layout of one pass is level-major: every material of every renderer of
// level 0, then level 1, and so on. CommandOffset and MaterialCount describe that layout.
type LODGroupData interface {
	// Key returns the prototype key the data was built for.
	//
	// Returns:
	//   - string: the prototype key
	Key() string

	// LODCount returns the number of levels.
	//
	// Returns:
	//   - int: the level count, between 1 and MaxLevels
	LODCount() int

	// Level returns one level.
	//
	// Parameters:
	//   - index: the level index
	//
	// Returns:
	//   - Level: the level
	Level(index int) Level

	// Levels returns every level in order.
	//
	// Returns:
	//   - []Level: the levels
	Levels() []Level

	// Bounds returns the union of every renderer's bounds across all levels.
	//
	// Returns:
	//   - common.Bounds: the prototype bounds in instance space
	Bounds() common.Bounds

	// MaterialCount returns the number of indirect commands one pass occupies.
	//
	// Returns:
	//   - int: the sum of material counts over all renderers and levels
	MaterialCount() int

	// CommandOffset returns the first command index of a level within one pass.
	//
	// Parameters:
	//   - level: the level index
	//
	// Returns:
	//   - int: the offset of the level's first command
	CommandOffset(level int) int

	// HasShadowCasters reports whether any renderer casts shadows.
	//
	// Returns:
	//   - bool: true if a shadow pass would draw anything
	HasShadowCasters() bool

	// OwnerKey returns the parameter buffer owner key of the data.
	//
	// Returns:
	//   - string: the owner key
	OwnerKey() string

	// Parameters packs the level count, transition distances and bounds for the culling kernel.
	//
	// Returns:
	//   - []float32: ParameterCount floats laid out by the Param* offsets
	Parameters() []float32

	// Regenerate validates and replaces the levels.
	//
	// Parameters:
	//   - levels: the new levels
	//
	// Returns:
	//   - error: a wrapped validation sentinel; the old levels are kept on error
	Regenerate(levels []Level) error

	// Version increments on every successful Regenerate.
	//
	// Returns:
	//   - uint64: the data version
	Version() uint64
}

var _ LODGroupData = &lodGroupData{}

// NewLODGroupData validates the configured levels and builds LODGroupData.
//
// Parameters:
//   - key: the prototype key
//   - options: variadic list of LODGroupDataBuilderOption functions adding levels
//
// Returns:
//   - LODGroupData: the validated data
//   - error: a wrapped validation sentinel
func NewLODGroupData(key string, options ...LODGroupDataBuilderOption) (LODGroupData, error) {
	d := &lodGroupData{key: key}
	for _, opt := range options {
		opt(d)
	}
	levels := d.levels
	d.levels = nil
	if err := d.Regenerate(levels); err != nil {
		return nil, err
	}
	d.version = 0
	return d, nil
}

// Validate checks the level invariants without building anything.
//
// Parameters:
//   - levels: the candidate levels
//
// Returns:
//   - error: a wrapped validation sentinel, or nil
func Validate(levels []Level) error {
	if len(levels) == 0 {
		return ErrNoLevels
	}
	if len(levels) > MaxLevels {
		return fmt.Errorf("%d levels: %w", len(levels), ErrTooManyLevels)
	}
	for i, l := range levels {
		if i > 0 && l.TransitionDistance <= levels[i-1].TransitionDistance {
			return fmt.Errorf("level %d distance %.2f after %.2f: %w", i, l.TransitionDistance, levels[i-1].TransitionDistance, ErrTransitionOrder)
		}
		if len(l.Renderers) == 0 {
			return fmt.Errorf("level %d: %w", i, ErrNoRenderers)
		}
		for j, r := range l.Renderers {
			if r.Mesh == nil {
				return fmt.Errorf("level %d renderer %d: %w", i, j, ErrNilMesh)
			}
			if len(r.Materials) == 0 {
				return fmt.Errorf("level %d renderer %d: %w", i, j, ErrNoMaterials)
			}
			if len(r.Materials) > r.Mesh.SubMeshCount() {
				return fmt.Errorf("level %d renderer %d: %d materials, %d submeshes: %w", i, j, len(r.Materials), r.Mesh.SubMeshCount(), ErrTooManyMaterials)
			}
			for _, m := range r.Materials {
				if m == nil {
					return fmt.Errorf("level %d renderer %d: %w", i, j, ErrNilMaterial)
				}
			}
		}
	}
	return nil
}

func (d *lodGroupData) Key() string {
	return d.key
}

func (d *lodGroupData) LODCount() int {
	return len(d.levels)
}

func (d *lodGroupData) Level(index int) Level {
	return d.levels[index]
}

func (d *lodGroupData) Levels() []Level {
	return d.levels
}

func (d *lodGroupData) Bounds() common.Bounds {
	return d.bounds
}

func (d *lodGroupData) MaterialCount() int {
	return d.total
}

func (d *lodGroupData) CommandOffset(level int) int {
	return d.offsets[level]
}

func (d *lodGroupData) HasShadowCasters() bool {
	for _, l := range d.levels {
		for _, r := range l.Renderers {
			if r.CastsShadows() {
				return true
			}
		}
	}
	return false
}

func (d *lodGroupData) OwnerKey() string {
	return "lod:" + d.key
}

func (d *lodGroupData) Parameters() []float32 {
	out := make([]float32, ParameterCount)
	out[ParamLODCount] = float32(len(d.levels))
	for i, l := range d.levels {
		out[ParamTransitionStart+i] = l.TransitionDistance
	}
	for a := 0; a < 3; a++ {
		out[ParamBoundsCenter+a] = d.bounds.Center[a]
		out[ParamBoundsExtents+a] = d.bounds.Extents[a]
	}
	out[ParamBoundsRadiusHint] = d.bounds.Radius()
	return out
}

func (d *lodGroupData) Regenerate(levels []Level) error {
	if err := Validate(levels); err != nil {
		return fmt.Errorf("lod group %q: %w", d.key, err)
	}

	d.levels = append([]Level(nil), levels...)
	d.offsets = make([]int, len(levels))
	d.total = 0
	first := true
	for i, l := range d.levels {
		d.offsets[i] = d.total
		d.total += l.MaterialCount()
		for _, r := range l.Renderers {
			if first {
				d.bounds = r.Bounds()
				first = false
				continue
			}
			d.bounds = d.bounds.Encapsulate(r.Bounds())
		}
	}
	d.version++
	return nil
}

func (d *lodGroupData) Version() uint64 {
	return d.version
}
