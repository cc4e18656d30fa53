package loader

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/engine/lod"
	"github.com/Carmen-Shannon/oxy-instancer/engine/model"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/material"
	"go.uber.org/zap"
)

// Asset is a static glTF model flattened into one mesh. Every triangle primitive of the default
// scene becomes a submesh, with node transforms baked into the vertices.
type Asset struct {
	// Name is the cache key the asset was loaded under.
	Name string
	// Mesh holds the flattened geometry. It is not uploaded until the rendering system
	// registers a renderer that uses it.
	Mesh model.Model
	// Materials holds one material per submesh of Mesh, in submesh order.
	Materials []material.Material
}

// Renderer returns a renderer descriptor drawing the asset with every material. The template
// supplies the remaining per-renderer flags.
func (a *Asset) Renderer(template lod.RendererDescriptor) lod.RendererDescriptor {
	template.Mesh = a.Mesh
	template.Materials = append([]material.Material(nil), a.Materials...)
	return template
}

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.RWMutex

	logger      *zap.Logger
	pipelineKey string

	assets map[string]*Asset
}

// Loader loads glTF 2.0 (.gltf/.glb) files into instancing prototypes and caches the result.
// Only static geometry is read: skins, morph targets, animations and textures are ignored.
type Loader interface {
	// Load imports a model file and caches the result under its path.
	// If the path is already cached, the cached asset is returned.
	//
	// Parameters:
	//   - path: the file path to the .gltf or .glb file
	//
	// Returns:
	//   - *Asset: the loaded asset
	//   - error: error if reading or decoding fails
	Load(path string) (*Asset, error)

	// LoadReader imports a model from a reader and caches it under name. Relative buffer URIs
	// are resolved against the working directory.
	//
	// Parameters:
	//   - name: the cache key for the asset
	//   - r: the reader providing the document
	//   - isGLB: true if the reader provides GLB binary data
	//
	// Returns:
	//   - *Asset: the loaded asset
	//   - error: error if reading or decoding fails
	LoadReader(name string, r io.Reader, isGLB bool) (*Asset, error)

	// Get retrieves a cached asset by name. Returns nil if not found.
	//
	// Parameters:
	//   - name: the cache key to look up
	//
	// Returns:
	//   - *Asset: the cached asset or nil
	Get(name string) *Asset

	// Assets returns a copy of the asset cache.
	//
	// Returns:
	//   - map[string]*Asset: all cached assets keyed by name
	Assets() map[string]*Asset

	// Evict removes an asset from the cache. The caller releases its mesh if it was uploaded.
	//
	// Parameters:
	//   - name: the cache key to remove
	//
	// Returns:
	//   - bool: true if the asset was cached
	Evict(name string) bool
}

var _ Loader = &loader{}

// NewLoader creates a new Loader instance with the provided options applied.
//
// Parameters:
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: a new Loader instance
func NewLoader(options ...LoaderBuilderOption) Loader {
	l := &loader{
		logger: zap.NewNop(),
		assets: make(map[string]*Asset),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *loader) Load(path string) (*Asset, error) {
	if a := l.Get(path); a != nil {
		return a, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
	default:
		return nil, fmt.Errorf("file %q: %w", path, ErrUnsupported)
	}

	p, err := parseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", path, err)
	}
	return l.store(path, p)
}

func (l *loader) LoadReader(name string, r io.Reader, isGLB bool) (*Asset, error) {
	p, err := parseReader(r, isGLB, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", name, err)
	}
	return l.store(name, p)
}

func (l *loader) store(name string, p *gltfParser) (*Asset, error) {
	b := newMeshBuilder(p, l.pipelineKey)
	if err := b.build(); err != nil {
		return nil, fmt.Errorf("failed to extract %q: %w", name, err)
	}

	a := &Asset{
		Name: name,
		Mesh: model.NewModel(
			model.WithName(name),
			model.WithVertices(b.vertices),
			model.WithIndices(b.indices),
			model.WithSubMeshes(b.subMeshes...),
		),
		Materials: b.materials,
	}

	l.mu.Lock()
	l.assets[name] = a
	l.mu.Unlock()

	l.logger.Debug("asset loaded",
		zap.String("name", name),
		zap.Int("vertices", len(b.vertices)),
		zap.Int("indices", len(b.indices)),
		zap.Int("submeshes", len(b.subMeshes)),
	)
	return a, nil
}

func (l *loader) Get(name string) *Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.assets[name]
}

func (l *loader) Assets() map[string]*Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*Asset, len(l.assets))
	for k, v := range l.assets {
		out[k] = v
	}
	return out
}

func (l *loader) Evict(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.assets[name]
	delete(l.assets, name)
	return ok
}
