package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordSet_Canonical(t *testing.T) {
	a := NewKeywordSet("B", "A", "B", " ")
	b := NewKeywordSet("A B")

	assert.Equal(t, a, b)
	assert.Equal(t, []string{"A", "B"}, a.Keywords())
	assert.True(t, a.Has("A"))
	assert.False(t, a.Has("C"))
	assert.Nil(t, KeywordSet("").Keywords())
}

func TestKeywordSet_WithWithoutToggle(t *testing.T) {
	k := NewKeywordSet("A")

	assert.Equal(t, NewKeywordSet("A", KeywordLODCrossFade), k.With(KeywordLODCrossFade))
	assert.Equal(t, KeywordSet(""), k.Without("A"))
	assert.Equal(t, NewKeywordSet("A", "B"), k.Toggle("B", true))
	assert.Equal(t, k, k.Toggle("B", false))
	assert.Equal(t, NewKeywordSet("A", "C"), k.Union(NewKeywordSet("C")))
}

func TestKeywordSet_Filter(t *testing.T) {
	k := NewKeywordSet("A", "B", "C")

	assert.Equal(t, k, k.Filter(nil))
	assert.Equal(t, NewKeywordSet("B"), k.Filter([]string{"B", "Z"}))
	assert.Equal(t, KeywordSet(""), k.Filter([]string{}))
}

const annotatedSource = `//@oxy:keywords FADE PACKED
//@oxy:include header
fn main() {
//@oxy:if FADE
    fade();
//@oxy:else
    nofade();
//@oxy:endif
//@oxy:ifnot PACKED
    full();
//@oxy:endif
}`

func TestPreProcessor_Variants(t *testing.T) {
	pp := NewPreProcessor(map[string]string{"header": "struct Header { x: f32 }"})

	out, err := pp.Process(annotatedSource, NewKeywordSet("FADE"))
	require.NoError(t, err)
	assert.Contains(t, out, "struct Header")
	assert.Contains(t, out, "fade();")
	assert.NotContains(t, out, "nofade();")
	assert.Contains(t, out, "full();")
	assert.NotContains(t, out, "@oxy")
	assert.Equal(t, []string{"FADE", "PACKED"}, pp.Declarations())

	out, err = pp.Process(annotatedSource, NewKeywordSet("PACKED"))
	require.NoError(t, err)
	assert.Contains(t, out, "nofade();")
	assert.NotContains(t, out, "full();")
}

func TestPreProcessor_NestedBlocks(t *testing.T) {
	src := strings.Join([]string{
		"//@oxy:if A",
		"//@oxy:if B",
		"ab",
		"//@oxy:else",
		"a_only",
		"//@oxy:endif",
		"//@oxy:endif",
	}, "\n")
	pp := NewPreProcessor(nil)

	out, err := pp.Process(src, NewKeywordSet("B"))
	require.NoError(t, err)
	assert.Equal(t, "", strings.TrimSpace(out), "outer block disabled hides the else branch too")

	out, err = pp.Process(src, NewKeywordSet("A"))
	require.NoError(t, err)
	assert.Equal(t, "a_only", strings.TrimSpace(out))
}

func TestPreProcessor_Errors(t *testing.T) {
	pp := NewPreProcessor(nil)
	tests := []struct {
		name string
		src  string
	}{
		{"unclosed if", "//@oxy:if A\nx"},
		{"stray endif", "//@oxy:endif"},
		{"stray else", "//@oxy:else"},
		{"unknown include", "//@oxy:include missing"},
		{"unknown annotation", "//@oxy:bogus"},
		{"if without keyword", "//@oxy:if"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pp.Process(tt.src, "")
			assert.Error(t, err)
		})
	}
}

func TestShader_VariantCacheUsesDeclaredKeywords(t *testing.T) {
	s := NewShader("instanced", ShaderTypeVertex, annotatedSource, "vs_main", map[string]string{"header": ""})

	assert.Equal(t, NewKeywordSet("FADE"), s.VariantKey(NewKeywordSet("FADE", "UNRELATED")))

	a, err := s.Variant(NewKeywordSet("FADE", "UNRELATED"))
	require.NoError(t, err)
	b, err := s.Variant(NewKeywordSet("FADE"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
