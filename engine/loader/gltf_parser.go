package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidDocument is returned for files that are not glTF 2.0 JSON or GLB version 2.
	ErrInvalidDocument = errors.New("loader: invalid glTF document")
	// ErrUnsupported is returned for glTF features the loader does not read, such as sparse
	// accessors or non-triangle primitives.
	ErrUnsupported = errors.New("loader: unsupported glTF feature")
	// ErrOutOfRange is returned when an index in the document points past its array or buffer.
	ErrOutOfRange = errors.New("loader: index out of range")
)

// gltfParser decodes a glTF or GLB document and reads typed accessor data from its buffers.
type gltfParser struct {
	baseDir        string
	document       *gltfDocument
	glbBinaryChunk []byte
}

// parseFile loads and parses a glTF/GLB file, detecting GLB by extension or magic number.
func parseFile(path string) (*gltfParser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	p := &gltfParser{baseDir: filepath.Dir(path)}
	isGLB := strings.EqualFold(filepath.Ext(path), ".glb") || (len(data) >= 4 && binary.LittleEndian.Uint32(data) == gltfGLBMagic)
	return p, p.parse(data, isGLB)
}

// parseReader parses a document from a reader. External buffer URIs resolve against baseDir.
func parseReader(r io.Reader, isGLB bool, baseDir string) (*gltfParser, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	p := &gltfParser{baseDir: baseDir}
	return p, p.parse(data, isGLB)
}

func (p *gltfParser) parse(data []byte, isGLB bool) error {
	jsonData := data
	if isGLB {
		var err error
		if jsonData, err = p.splitGLB(data); err != nil {
			return err
		}
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to parse glTF JSON: %w: %w", ErrInvalidDocument, err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return fmt.Errorf("asset version %q: %w", doc.Asset.Version, ErrInvalidDocument)
	}
	if err := p.loadBuffers(&doc); err != nil {
		return fmt.Errorf("failed to load buffers: %w", err)
	}
	p.document = &doc
	return nil
}

// splitGLB returns the JSON chunk and keeps the binary chunk.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#glb-file-format-specification
func (p *gltfParser) splitGLB(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read GLB header: %w: %w", ErrInvalidDocument, err)
	}
	if header.Magic != gltfGLBMagic || header.Version != gltfGLBVersion {
		return nil, fmt.Errorf("GLB magic %#x version %d: %w", header.Magic, header.Version, ErrInvalidDocument)
	}

	var jsonData []byte
	for {
		var chunk gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunkData := make([]byte, chunk.ChunkLength)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, fmt.Errorf("failed to read chunk data: %w", err)
		}
		switch chunk.ChunkType {
		case gltfGLBChunkJSON:
			jsonData = chunkData
		case gltfGLBChunkBIN:
			p.glbBinaryChunk = chunkData
		}
	}
	if jsonData == nil {
		return nil, fmt.Errorf("GLB file missing JSON chunk: %w", ErrInvalidDocument)
	}
	return jsonData, nil
}

// loadBuffers loads all buffer data (from URIs, embedded data, or GLB binary chunk).
func (p *gltfParser) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]
		switch {
		case buf.URI == "" && i == 0 && p.glbBinaryChunk != nil:
			buf.Data = p.glbBinaryChunk
		case buf.URI == "":
			return fmt.Errorf("buffer %d has no URI and no GLB binary chunk: %w", i, ErrInvalidDocument)
		default:
			data, err := p.loadBufferURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.Data = data
		}
		if len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("buffer %d holds %d of %d bytes: %w", i, len(buf.Data), buf.ByteLength, ErrOutOfRange)
		}
	}
	return nil
}

// loadBufferURI loads buffer data from a base64 data URI or a file relative to the document.
func (p *gltfParser) loadBufferURI(uri string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(uri, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("data URI %q: %w", header, ErrUnsupported)
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(p.baseDir, uri))
	if err != nil {
		return nil, fmt.Errorf("failed to load buffer file %q: %w", uri, err)
	}
	return data, nil
}

// accessorElements returns the raw bytes of every element of an accessor, de-interleaved.
func (p *gltfParser) accessorElements(index int) (*gltfAccessor, [][]byte, error) {
	doc := p.document
	if index < 0 || index >= len(doc.Accessors) {
		return nil, nil, fmt.Errorf("accessor %d: %w", index, ErrOutOfRange)
	}
	acc := &doc.Accessors[index]
	if acc.Sparse != nil {
		return nil, nil, fmt.Errorf("accessor %d is sparse: %w", index, ErrUnsupported)
	}
	if acc.BufferView == nil || *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, nil, fmt.Errorf("accessor %d buffer view: %w", index, ErrOutOfRange)
	}
	bv := &doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, nil, fmt.Errorf("buffer view %d buffer: %w", *acc.BufferView, ErrOutOfRange)
	}
	data := doc.Buffers[bv.Buffer].Data

	elementSize := componentTypeSize(acc.ComponentType) * accessorTypeComponentCount(acc.Type)
	if elementSize == 0 {
		return nil, nil, fmt.Errorf("accessor %d type %s/%d: %w", index, acc.Type, acc.ComponentType, ErrUnsupported)
	}
	stride := elementSize
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}
	start := bv.ByteOffset + acc.ByteOffset
	if acc.Count > 0 && start+(acc.Count-1)*stride+elementSize > len(data) {
		return nil, nil, fmt.Errorf("accessor %d reads past its buffer: %w", index, ErrOutOfRange)
	}

	out := make([][]byte, acc.Count)
	for i := range out {
		off := start + i*stride
		out[i] = data[off : off+elementSize]
	}
	return acc, out, nil
}

// readFloats reads an accessor of the given width as float32s. Integer components are
// normalized when the accessor says so, which is how COLOR_0 and TEXCOORD_0 are often stored.
func (p *gltfParser) readFloats(index int, components int) ([][4]float32, error) {
	acc, elements, err := p.accessorElements(index)
	if err != nil {
		return nil, err
	}
	if accessorTypeComponentCount(acc.Type) != components {
		return nil, fmt.Errorf("accessor %d is %s, want %d components: %w", index, acc.Type, components, ErrUnsupported)
	}
	if acc.ComponentType != gltfComponentTypeFloat && !acc.Normalized {
		return nil, fmt.Errorf("accessor %d has unnormalized integer components: %w", index, ErrUnsupported)
	}

	size := componentTypeSize(acc.ComponentType)
	out := make([][4]float32, len(elements))
	for i, e := range elements {
		for c := range components {
			b := e[c*size:]
			switch acc.ComponentType {
			case gltfComponentTypeFloat:
				out[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(b))
			case gltfComponentTypeUnsignedByte:
				out[i][c] = float32(b[0]) / 255
			case gltfComponentTypeUnsignedShort:
				out[i][c] = float32(binary.LittleEndian.Uint16(b)) / 65535
			case gltfComponentTypeByte:
				out[i][c] = max(float32(int8(b[0]))/127, -1)
			case gltfComponentTypeShort:
				out[i][c] = max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
			default:
				return nil, fmt.Errorf("accessor %d component type %d: %w", index, acc.ComponentType, ErrUnsupported)
			}
		}
	}
	return out, nil
}

// readIndices reads a SCALAR index accessor of unsigned bytes, shorts or ints.
func (p *gltfParser) readIndices(index int) ([]uint32, error) {
	acc, elements, err := p.accessorElements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("index accessor %d is %s: %w", index, acc.Type, ErrUnsupported)
	}
	out := make([]uint32, len(elements))
	for i, e := range elements {
		switch acc.ComponentType {
		case gltfComponentTypeUnsignedByte:
			out[i] = uint32(e[0])
		case gltfComponentTypeUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(e))
		case gltfComponentTypeUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(e)
		default:
			return nil, fmt.Errorf("index component type %d: %w", acc.ComponentType, ErrUnsupported)
		}
	}
	return out, nil
}

// componentTypeSize returns the byte size of a component type.
func componentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

// accessorTypeComponentCount returns the number of components for an accessor type.
func accessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4:
		return 4
	default:
		return 0
	}
}

// componentCount returns the component count of an accessor, or 0 when the index is invalid.
func (p *gltfParser) componentCount(index int) int {
	if index < 0 || index >= len(p.document.Accessors) {
		return 0
	}
	return accessorTypeComponentCount(p.document.Accessors[index].Type)
}
