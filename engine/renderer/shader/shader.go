package shader

import (
	"fmt"
	"os"
	"sync"
)

// ShaderType identifies whether a shader is a render shader or a compute shader.
type ShaderType int

const (
	// ShaderTypeCompute indicates a shader containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex is the vertex shader type, used for vertex processing in render pipelines.
	ShaderTypeVertex

	// ShaderTypeFragment is the fragment shader type, used for fragment processing in pair with a vertex shader.
	ShaderTypeFragment
)

// shader is the implementation of the Shader interface.
// It holds the raw annotated source and a cache of expanded keyword variants.
type shader struct {
	mu *sync.Mutex

	key        string
	source     string
	shaderType ShaderType
	entryPoint string
	declared   []string

	variants map[KeywordSet]string
	pp       PreProcessor
}

// Shader defines the interface for an annotated WGSL shader whose concrete source depends on
// a KeywordSet. Variants are expanded lazily and cached per canonical variant key.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the raw, unexpanded WGSL source code.
	//
	// Returns:
	//   - string: the annotated WGSL source code of the shader
	Source() string

	// ShaderType retrieves the stage of this shader.
	//
	// Returns:
	//   - ShaderType: vertex, fragment or compute
	ShaderType() ShaderType

	// EntryPoint retrieves the entry point function name.
	//
	// Returns:
	//   - string: the entry point
	EntryPoint() string

	// DeclaredKeywords returns the keyword space declared with @oxy:keywords, or nil if the
	// shader responds to any keyword.
	//
	// Returns:
	//   - []string: the declared keywords
	DeclaredKeywords() []string

	// VariantKey reduces a KeywordSet to the keywords this shader declares, so keyword sets
	// that differ only in irrelevant keywords share one compiled variant.
	//
	// Parameters:
	//   - keywords: the requested keywords
	//
	// Returns:
	//   - KeywordSet: the canonical variant key
	VariantKey(keywords KeywordSet) KeywordSet

	// Variant expands and caches the shader source for the given keywords.
	//
	// Parameters:
	//   - keywords: the requested keywords
	//
	// Returns:
	//   - string: the expanded WGSL source
	//   - error: an error if pre-processing fails
	Variant(keywords KeywordSet) (string, error)
}

var _ Shader = &shader{}

// NewShader creates a new Shader from annotated WGSL source. The keyword space is scanned
// eagerly so malformed annotations fail at construction.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and lookups
//   - shaderType: the stage of the shader
//   - source: the annotated WGSL source
//   - entryPoint: the entry point function name
//   - includes: snippets available to @oxy:include (may be nil)
//
// Returns:
//   - Shader: a new Shader instance with the provided configuration
func NewShader(key string, shaderType ShaderType, source, entryPoint string, includes map[string]string) Shader {
	if source == "" {
		panic(fmt.Sprintf("shader: %s must have a non-empty source", key))
	}
	declared, err := DeclaredKeywords(source)
	if err != nil {
		panic(fmt.Sprintf("shader: %s has malformed annotations: %v", key, err))
	}
	return &shader{
		mu:         &sync.Mutex{},
		key:        key,
		source:     source,
		shaderType: shaderType,
		entryPoint: entryPoint,
		declared:   declared,
		variants:   make(map[KeywordSet]string),
		pp:         NewPreProcessor(includes),
	}
}

// NewShaderFromFile reads annotated WGSL from disk and creates a Shader.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - shaderType: the stage of the shader
//   - path: the file path to read WGSL source from
//   - entryPoint: the entry point function name
//
// Returns:
//   - Shader: the new shader
//   - error: an error if the file cannot be read
func NewShaderFromFile(key string, shaderType ShaderType, path, entryPoint string) (Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to read source file %q: %w", path, err)
	}
	return NewShader(key, shaderType, string(data), entryPoint, nil), nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) DeclaredKeywords() []string {
	return s.declared
}

func (s *shader) VariantKey(keywords KeywordSet) KeywordSet {
	return keywords.Filter(s.declared)
}

func (s *shader) Variant(keywords KeywordSet) (string, error) {
	key := s.VariantKey(keywords)

	s.mu.Lock()
	defer s.mu.Unlock()

	if src, ok := s.variants[key]; ok {
		return src, nil
	}
	src, err := s.pp.Process(s.source, key)
	if err != nil {
		return "", fmt.Errorf("shader %s variant [%s]: %w", s.key, key, err)
	}
	s.variants[key] = src
	return src, nil
}
