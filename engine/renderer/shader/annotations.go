// annotations.go defines the annotation types and parser for the Oxy WGSL shader
// pre-processor. Annotations are single-line WGSL comments prefixed with @oxy: that declare
// a shader's keyword space, gate blocks of source on keywords, and inject shared WGSL
// snippets. The parsed results are consumed by the PreProcessor when it expands a shader
// variant for a KeywordSet.
package shader

import (
	"fmt"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeKeywords declares the keywords a shader responds to. Keywords outside
	// the declared space are stripped from variant keys so they do not create duplicate
	// pipelines. A shader may declare its keywords across several lines.
	//
	// Syntax: //@oxy:keywords <KEYWORD> [<KEYWORD>...]
	//
	// Example: //@oxy:keywords LOD_FADE_CROSSFADE PACKED_TRANSFORMS
	AnnotationTypeKeywords AnnotationType = "keywords"

	// annotationTypeIf starts a block that is kept only when the keyword is enabled.
	//
	// Syntax: //@oxy:if <KEYWORD>
	annotationTypeIf AnnotationType = "if"

	// annotationTypeIfNot starts a block that is kept only when the keyword is disabled.
	//
	// Syntax: //@oxy:ifnot <KEYWORD>
	annotationTypeIfNot AnnotationType = "ifnot"

	// annotationTypeElse flips the innermost open block.
	//
	// Syntax: //@oxy:else
	annotationTypeElse AnnotationType = "else"

	// annotationTypeEndIf closes the innermost open block.
	//
	// Syntax: //@oxy:endif
	annotationTypeEndIf AnnotationType = "endif"

	// annotationTypeInclude injects a registered WGSL snippet at the annotation site.
	//
	// Syntax: //@oxy:include <name>
	//
	// Example: //@oxy:include indirect_args
	annotationTypeInclude AnnotationType = "include"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - keywords:  every declared keyword
	//   - if/ifnot:  [0] = keyword
	//   - include:   [0] = snippet name
	//   - else/endif: empty
	Args []string

	// Line is the 1-based line number in the original WGSL source where this annotation
	// was found. Used for error reporting.
	Line int
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix. Returns
// a populated Annotation for valid annotations, or an error describing the problem for
// malformed annotations with correct prefix but invalid syntax.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	a := &Annotation{Type: AnnotationType(args[0]), Args: args[1:], Line: lineNum}
	switch a.Type {
	case AnnotationTypeKeywords:
		if len(a.Args) == 0 {
			return nil, fmt.Errorf("line %d: @oxy keywords annotation requires at least one keyword", lineNum)
		}
	case annotationTypeIf, annotationTypeIfNot:
		if len(a.Args) != 1 {
			return nil, fmt.Errorf("line %d: @oxy %s annotation requires exactly one keyword", lineNum, a.Type)
		}
	case annotationTypeElse, annotationTypeEndIf:
		if len(a.Args) != 0 {
			return nil, fmt.Errorf("line %d: @oxy %s annotation takes no arguments", lineNum, a.Type)
		}
	case annotationTypeInclude:
		if len(a.Args) != 1 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
	return a, nil
}
