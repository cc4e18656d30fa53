// pre_processor.go implements the Oxy WGSL shader pre-processor. It expands a shader
// source into the variant selected by a KeywordSet: @oxy:if / @oxy:ifnot / @oxy:else /
// @oxy:endif blocks are kept or dropped, @oxy:include annotations are replaced with
// registered WGSL snippets, and @oxy:keywords declarations are collected so callers can
// canonicalize variant keys to the keywords a shader actually uses.
package shader

import (
	"fmt"
	"strings"
)

// maxIncludeDepth bounds nested @oxy:include expansion.
const maxIncludeDepth = 8

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// includes maps snippet names to WGSL source injected by @oxy:include.
	includes map[string]string

	// declarations accumulates the keywords declared by @oxy:keywords during a Process call.
	// Reset at the start of each Process invocation.
	declarations []string
}

// PreProcessor expands WGSL shader source containing @oxy: annotations into a concrete
// shader variant for a set of enabled keywords.
type PreProcessor interface {
	// Process expands the source for the given keywords. Conditional blocks are resolved,
	// include annotations are replaced with their snippet, and annotation lines are removed.
	//
	// The declared keyword list is reset at the start of each call and can be retrieved
	// via Declarations() after Process returns.
	//
	// Parameters:
	//   - source: the raw WGSL shader source code containing annotations to be processed
	//   - keywords: the enabled keywords
	//
	// Returns:
	//   - string: the expanded WGSL source
	//   - error: an error if an annotation is malformed, a block is unbalanced, or an include is unknown
	Process(source string, keywords KeywordSet) (string, error)

	// Declarations returns the keywords declared with @oxy:keywords during the most recent
	// call to Process, in source order. Returns nil if the source declares none.
	//
	// Returns:
	//   - []string: the declared keywords
	Declarations() []string

	// RegisterInclude adds or replaces a named snippet for @oxy:include.
	//
	// Parameters:
	//   - name: the snippet name referenced by the annotation
	//   - source: the WGSL source injected in its place
	RegisterInclude(name, source string)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a new PreProcessor with the given include snippets pre-registered.
//
// Parameters:
//   - includes: snippet names mapped to WGSL source (may be nil)
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(includes map[string]string) PreProcessor {
	p := &preProcessor{includes: make(map[string]string, len(includes))}
	for name, src := range includes {
		p.includes[name] = src
	}
	return p
}

// DeclaredKeywords scans source for @oxy:keywords annotations without expanding it.
// Returns nil when the shader does not declare a keyword space.
//
// Parameters:
//   - source: the raw WGSL source
//
// Returns:
//   - []string: the declared keywords in source order
//   - error: an error if an annotation is malformed
func DeclaredKeywords(source string) ([]string, error) {
	var declared []string
	for i, line := range strings.Split(source, "\n") {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return nil, err
		}
		if a != nil && a.Type == AnnotationTypeKeywords {
			declared = append(declared, a.Args...)
		}
	}
	return declared, nil
}

func (p *preProcessor) RegisterInclude(name, source string) {
	p.includes[name] = source
}

func (p *preProcessor) Declarations() []string {
	return p.declarations
}

func (p *preProcessor) Process(source string, keywords KeywordSet) (string, error) {
	p.declarations = nil
	out, err := p.expand(source, keywords, 0)
	if err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

// conditionFrame tracks one open @oxy:if block.
type conditionFrame struct {
	parentActive bool
	taken        bool
	inElse       bool
	line         int
}

func (p *preProcessor) expand(source string, keywords KeywordSet, depth int) ([]string, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("@oxy include nesting exceeds %d levels", maxIncludeDepth)
	}

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	var stack []conditionFrame
	active := true

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return nil, err
		}
		if a == nil {
			if active {
				out = append(out, line)
			}
			continue
		}

		switch a.Type {
		case AnnotationTypeKeywords:
			if depth == 0 {
				p.declarations = append(p.declarations, a.Args...)
			}
		case annotationTypeIf, annotationTypeIfNot:
			cond := keywords.Has(a.Args[0])
			if a.Type == annotationTypeIfNot {
				cond = !cond
			}
			stack = append(stack, conditionFrame{parentActive: active, taken: cond, line: a.Line})
			active = active && cond
		case annotationTypeElse:
			if len(stack) == 0 {
				return nil, fmt.Errorf("line %d: @oxy else without matching if", a.Line)
			}
			top := &stack[len(stack)-1]
			if top.inElse {
				return nil, fmt.Errorf("line %d: duplicate @oxy else for if on line %d", a.Line, top.line)
			}
			top.inElse = true
			active = top.parentActive && !top.taken
		case annotationTypeEndIf:
			if len(stack) == 0 {
				return nil, fmt.Errorf("line %d: @oxy endif without matching if", a.Line)
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
		case annotationTypeInclude:
			if !active {
				continue
			}
			snippet, ok := p.includes[a.Args[0]]
			if !ok {
				return nil, fmt.Errorf("line %d: unknown @oxy include %q", a.Line, a.Args[0])
			}
			expanded, err := p.expand(snippet, keywords, depth+1)
			if err != nil {
				return nil, fmt.Errorf("include %q: %w", a.Args[0], err)
			}
			out = append(out, expanded...)
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("line %d: @oxy if is never closed", stack[len(stack)-1].line)
	}
	return out, nil
}
