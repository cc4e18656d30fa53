package shader

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	structRegex    = regexp.MustCompile(`\bstruct\s+(\w+)\s*\{([^}]*)\}`)
	bindingRegex   = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
	entryRegex     = regexp.MustCompile(`@(vertex|fragment|compute)\b[^{;]*?\bfn\s+(\w+)\s*\(`)
	workgroupRegex = regexp.MustCompile(`@workgroup_size\(([^)]*)\)`)
	attributeRegex = regexp.MustCompile(`^@(\w+)(?:\(\s*([^)]*?)\s*\))?\s*`)
)

// wgslField is one struct member or entry point parameter.
type wgslField struct {
	name     string
	typeName string
	// location is -1 for members without @location.
	location int
	builtin  bool
}

type wgslStruct struct {
	name   string
	fields []wgslField
}

// wgslBinding is one module scope @group/@binding declaration.
type wgslBinding struct {
	group, binding int
	// addressSpace holds the var template, e.g. "uniform" or "storage, read_write". Handle
	// types such as textures and samplers have none.
	addressSpace string
	name         string
	typeName     string
}

// wgslEntry is a stage entry point and its parameter list.
type wgslEntry struct {
	name   string
	params []wgslField
}

// wgslModule is the resource surface of a WGSL source. Keyword conditionals are not evaluated,
// so declarations in every branch are present.
type wgslModule struct {
	structs   []wgslStruct
	bindings  []wgslBinding
	entries   map[ShaderType]wgslEntry
	workgroup [3]uint32
}

// scanWGSL strips comments and collects structs, bindings, entry points and the workgroup size.
func scanWGSL(source string) *wgslModule {
	src := stripComments(source)
	m := &wgslModule{
		entries:   make(map[ShaderType]wgslEntry),
		workgroup: [3]uint32{1, 1, 1},
	}

	for _, match := range structRegex.FindAllStringSubmatch(src, -1) {
		m.structs = append(m.structs, wgslStruct{name: match[1], fields: parseFieldList(match[2])})
	}

	for _, match := range bindingRegex.FindAllStringSubmatch(src, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		m.bindings = append(m.bindings, wgslBinding{
			group:        group,
			binding:      binding,
			addressSpace: strings.TrimSpace(match[3]),
			name:         match[4],
			typeName:     strings.TrimSpace(match[5]),
		})
	}

	for _, loc := range entryRegex.FindAllStringSubmatchIndex(src, -1) {
		stage := stageFromAttribute(src[loc[2]:loc[3]])
		if _, seen := m.entries[stage]; seen {
			continue
		}
		// loc[1] sits just past the opening parenthesis.
		params, _ := balancedPrefix(src[loc[1]:], '(', ')')
		m.entries[stage] = wgslEntry{name: src[loc[4]:loc[5]], params: parseFieldList(params)}
	}

	if match := workgroupRegex.FindStringSubmatch(src); match != nil {
		for i, dim := range strings.SplitN(match[1], ",", 3) {
			if v, err := strconv.ParseUint(strings.TrimSpace(dim), 10, 32); err == nil && v > 0 {
				m.workgroup[i] = uint32(v)
			}
		}
	}
	return m
}

func stageFromAttribute(attr string) ShaderType {
	switch attr {
	case "vertex":
		return ShaderTypeVertex
	case "fragment":
		return ShaderTypeFragment
	default:
		return ShaderTypeCompute
	}
}

func (m *wgslModule) structByName(name string) (wgslStruct, bool) {
	for _, s := range m.structs {
		if s.name == name {
			return s, true
		}
	}
	return wgslStruct{}, false
}

// parseFieldList parses comma separated "attributes name: type" members. Commas inside template
// brackets or attribute parentheses do not split.
func parseFieldList(body string) []wgslField {
	var fields []wgslField
	for _, part := range splitTopLevel(body) {
		part = strings.TrimSpace(part)
		f := wgslField{location: -1}
		for {
			match := attributeRegex.FindStringSubmatch(part)
			if match == nil {
				break
			}
			switch match[1] {
			case "location":
				if loc, err := strconv.Atoi(match[2]); err == nil {
					f.location = loc
				}
			case "builtin":
				f.builtin = true
			}
			part = part[len(match[0]):]
		}
		name, typeName, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		f.name = strings.TrimSpace(name)
		f.typeName = strings.TrimSpace(typeName)
		fields = append(fields, f)
	}
	return fields
}

// splitTopLevel splits s at commas outside <> and ().
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(':
			depth++
		case '>', ')':
			depth = max(depth-1, 0)
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// balancedPrefix returns s up to the close rune that balances an already consumed open rune.
func balancedPrefix(s string, open, close byte) (string, bool) {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[:i], true
			}
		}
	}
	return s, false
}

// stripComments removes line comments and nested block comments in one pass. Removed comments
// keep their newlines so offsets by line stay meaningful.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		c := source[i]
		next := byte(0)
		if i+1 < len(source) {
			next = source[i+1]
		}
		switch {
		case c == '/' && next == '*':
			depth++
			i++
		case depth > 0 && c == '*' && next == '/':
			depth--
			i++
		case depth > 0:
			if c == '\n' {
				sb.WriteByte('\n')
			}
		case c == '/' && next == '/':
			for i < len(source) && source[i] != '\n' {
				i++
			}
			if i < len(source) {
				sb.WriteByte('\n')
			}
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
