package shader

import (
	"slices"
	"strings"
)

// Keywords injected or toggled by the instancing systems.
const (
	// KeywordLODCrossFade enables dithered cross-fading between neighbouring LOD levels.
	KeywordLODCrossFade = "LOD_FADE_CROSSFADE"

	// KeywordPackedTransforms switches instance shaders to the 3x4 packed transform layout.
	KeywordPackedTransforms = "PACKED_TRANSFORMS"

	// KeywordDensityReduceByDistance thins generated vegetation with distance from the camera.
	KeywordDensityReduceByDistance = "DENSITY_REDUCE_BY_DISTANCE"

	// KeywordTerrainHoles rejects vegetation placed over terrain holes.
	KeywordTerrainHoles = "TERRAIN_HOLES"

	// KeywordShadowPass selects the depth-only variant of an instance shader.
	KeywordShadowPass = "SHADOW_PASS"
)

// keywordSeparator joins keywords inside a canonical KeywordSet.
const keywordSeparator = " "

// KeywordSet is a canonical, order-independent set of shader keywords. Two sets built from
// the same keywords in any order compare equal, which makes KeywordSet usable as part of
// a map key. The zero value is the empty set.
type KeywordSet string

// NewKeywordSet builds a canonical KeywordSet. Keywords are trimmed, de-duplicated and sorted;
// empty keywords are dropped.
//
// Parameters:
//   - keywords: the keywords to include
//
// Returns:
//   - KeywordSet: the canonical set
func NewKeywordSet(keywords ...string) KeywordSet {
	clean := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		for field := range strings.FieldsSeq(kw) {
			clean = append(clean, field)
		}
	}
	slices.Sort(clean)
	clean = slices.Compact(clean)
	return KeywordSet(strings.Join(clean, keywordSeparator))
}

// Keywords returns the sorted keywords of the set.
func (k KeywordSet) Keywords() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), keywordSeparator)
}

// Has reports whether kw is in the set.
func (k KeywordSet) Has(kw string) bool {
	_, found := slices.BinarySearch(k.Keywords(), kw)
	return found
}

// With returns a new set containing the union of k and keywords.
func (k KeywordSet) With(keywords ...string) KeywordSet {
	return NewKeywordSet(append(k.Keywords(), keywords...)...)
}

// Without returns a new set with keywords removed.
func (k KeywordSet) Without(keywords ...string) KeywordSet {
	kept := slices.DeleteFunc(k.Keywords(), func(kw string) bool {
		return slices.Contains(keywords, kw)
	})
	return NewKeywordSet(kept...)
}

// Toggle adds kw when enabled is true and removes it otherwise.
func (k KeywordSet) Toggle(kw string, enabled bool) KeywordSet {
	if enabled {
		return k.With(kw)
	}
	return k.Without(kw)
}

// Union returns the union of k and other.
func (k KeywordSet) Union(other KeywordSet) KeywordSet {
	return k.With(other.Keywords()...)
}

// Filter keeps only keywords present in declared. A nil declared list keeps every keyword,
// which is the behavior for shaders that do not declare their keyword space.
func (k KeywordSet) Filter(declared []string) KeywordSet {
	if declared == nil {
		return k
	}
	kept := slices.DeleteFunc(k.Keywords(), func(kw string) bool {
		return !slices.Contains(declared, kw)
	})
	return NewKeywordSet(kept...)
}
