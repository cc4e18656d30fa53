// Package scene groups the content of one view of the world: the cameras that render it, the
// instanced batches of game objects drawn through the rendering system and the vegetation layers
// generated over terrains each frame.
package scene

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-instancer/engine/camera"
	"github.com/Carmen-Shannon/oxy-instancer/engine/game_object"
	"github.com/Carmen-Shannon/oxy-instancer/engine/render_source"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/rendering_system"
	"github.com/Carmen-Shannon/oxy-instancer/engine/terrain"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// chunkSize is the number of objects one worker task processes.
const chunkSize = 1024

var (
	// ErrUnknownBatch is returned for a renderer key that is not a batch of this scene.
	ErrUnknownBatch = errors.New("scene: unknown batch")
	// ErrInvalidLayer is returned by AddVegetation for a layer missing its terrain or noise.
	ErrInvalidLayer = errors.New("scene: invalid vegetation layer")
)

// Scene is a set of cameras, instanced batches and vegetation layers sharing one rendering
// system. The engine prepares every active scene once per frame and renders its cameras.
type Scene interface {
	// Name returns the scene name.
	Name() string

	// SetName renames the scene.
	SetName(name string)

	// Active returns whether the scene is prepared and rendered.
	Active() bool

	// SetActive enables or disables the scene.
	SetActive(active bool)

	// System returns the rendering system the scene registers its content with.
	System() rendering_system.RenderingSystem

	// Cameras returns the scene cameras in the order they render. The first camera drives
	// vegetation generation.
	//
	// Returns:
	//   - []camera.Camera: a copy of the camera list
	Cameras() []camera.Camera

	// AddCamera appends a camera. Adding a camera twice is a no-op.
	//
	// Parameters:
	//   - cam: the camera
	AddCamera(cam camera.Camera)

	// RemoveCamera removes a camera.
	//
	// Parameters:
	//   - cam: the camera
	RemoveCamera(cam camera.Camera)

	// AddBatch registers an instanced batch drawing one instance per enabled object.
	//
	// Parameters:
	//   - proto: the prototype every object is drawn with
	//   - bufferType: the transform layout of the batch
	//   - objects: the initial objects, IDs are assigned to objects without one
	//
	// Returns:
	//   - int: the renderer key of the batch
	//   - error: a registration error from the rendering system
	AddBatch(proto rendering_system.Prototype, bufferType render_source.TransformBufferType, objects ...game_object.GameObject) (int, error)

	// AddObjects appends objects to a batch. The batch grows on the next PrepareCompute.
	//
	// Parameters:
	//   - key: the batch renderer key
	//   - objects: the objects to add
	//
	// Returns:
	//   - error: ErrUnknownBatch
	AddObjects(key int, objects ...game_object.GameObject) error

	// Objects returns a copy of a batch's objects.
	//
	// Parameters:
	//   - key: the batch renderer key
	//
	// Returns:
	//   - []game_object.GameObject: the objects, nil for an unknown key
	Objects(key int) []game_object.GameObject

	// Get returns an object by ID, or nil.
	Get(id uint64) game_object.GameObject

	// Remove removes an object by ID from its batch.
	//
	// Parameters:
	//   - id: the object ID
	//
	// Returns:
	//   - bool: true if the object was found
	Remove(id uint64) bool

	// RemoveBatch disposes a batch's renderer and forgets its objects.
	//
	// Parameters:
	//   - key: the batch renderer key
	//
	// Returns:
	//   - error: ErrUnknownBatch or a rendering system error
	RemoveBatch(key int) error

	// Count returns the number of objects over every batch.
	Count() int

	// AddVegetation registers a vegetation layer. Its instances are regenerated for the first
	// camera on every PrepareCompute.
	//
	// Parameters:
	//   - layer: the layer
	//
	// Returns:
	//   - int: the renderer key of the layer
	//   - error: ErrInvalidLayer or a registration error
	AddVegetation(layer VegetationLayer) (int, error)

	// Update advances every object by deltaTime in the worker pool.
	//
	// Parameters:
	//   - deltaTime: elapsed time in seconds
	Update(deltaTime float32)

	// PrepareCompute uploads the transforms of changed batches and regenerates vegetation.
	// It must run on the render goroutine before the scene's cameras are processed.
	//
	// Returns:
	//   - error: joined upload and generation errors
	PrepareCompute() error

	// Dispose releases every batch and layer. Terrains stay owned by the caller.
	Dispose()
}

// VegetationLayer renders detail vegetation generated over a terrain.
type VegetationLayer struct {
	// Terrain is the initialized terrain the vegetation grows on.
	Terrain terrain.Terrain
	// Prototype is the mesh every generated instance is drawn with.
	Prototype rendering_system.Prototype
	// Details are the detail prototypes generated into this layer.
	Details []*terrain.DetailPrototype
	// SubSettingIndex selects the details generated.
	SubSettingIndex int
	// DetailResolution is the number of detail cells per terrain axis.
	DetailResolution int
	// Capacity is the number of transform slots reserved for the layer.
	Capacity int
	// ViewDistance is the generation distance, zero uses the terrain settings.
	ViewDistance float32
	// Noise drives jitter, spawn thresholds and rotation.
	Noise *resource.Texture
}

// batch is one instanced batch of game objects.
type batch struct {
	key      int
	objects  []game_object.GameObject
	versions []uint64
	live     []game_object.GameObject
	matrices []mgl32.Mat4
	uploaded bool
}

// vegetation is one registered vegetation layer.
type vegetation struct {
	key     int
	layer   VegetationLayer
	counter *resource.Buffer
}

type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	r      renderer.Renderer
	sys    rendering_system.RenderingSystem
	logger *zap.Logger

	cameras    []camera.Camera
	batches    map[int]*batch
	order      []int
	vegetation []*vegetation
	nextID     uint64
	nextGroup  int

	viewDistance float32

	// computePool runs the per-object work of Update and PrepareCompute. Workers persist
	// across frames.
	computePool    worker.DynamicWorkerPool
	computeWorkers int
}

var _ Scene = &scene{}

// NewScene creates a new Scene. The renderer and the rendering system are required and NewScene
// panics if either is nil.
//
// Parameters:
//   - name: the name of the scene
//   - r: the renderer the rendering system draws with
//   - sys: the rendering system content is registered with
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, r renderer.Renderer, sys rendering_system.RenderingSystem, options ...SceneBuilderOption) Scene {
	if r == nil {
		panic("scene: NewScene requires a non-nil Renderer")
	}
	if sys == nil {
		panic("scene: NewScene requires a non-nil RenderingSystem")
	}

	s := &scene{
		mu:             &sync.RWMutex{},
		name:           name,
		active:         true,
		r:              r,
		sys:            sys,
		logger:         zap.NewNop(),
		batches:        make(map[int]*batch),
		nextID:         1,
		nextGroup:      1,
		viewDistance:   sys.Settings().Terrain.ViewDistance,
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}

	for _, option := range options {
		option(s)
	}

	// Queue size of 256 accommodates typical batch sizes with headroom.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)
	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) System() rendering_system.RenderingSystem {
	return s.sys
}

func (s *scene) Cameras() []camera.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cameras)
}

func (s *scene) AddCamera(cam camera.Camera) {
	if cam == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.cameras, cam) {
		s.cameras = append(s.cameras, cam)
	}
}

func (s *scene) RemoveCamera(cam camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras = slices.DeleteFunc(s.cameras, func(c camera.Camera) bool { return c == cam })
}

func (s *scene) AddBatch(proto rendering_system.Prototype, bufferType render_source.TransformBufferType, objects ...game_object.GameObject) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &batch{}
	key, err := s.sys.RegisterRenderer(b, proto, 0, bufferType)
	if err != nil {
		return 0, err
	}
	b.key = key
	s.batches[key] = b
	s.order = append(s.order, key)
	s.appendObjects(b, objects)
	return key, nil
}

func (s *scene) AddObjects(key int, objects ...game_object.GameObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[key]
	if !ok {
		return fmt.Errorf("%d: %w", key, ErrUnknownBatch)
	}
	s.appendObjects(b, objects)
	return nil
}

func (s *scene) appendObjects(b *batch, objects []game_object.GameObject) {
	for _, obj := range objects {
		if obj == nil {
			continue
		}
		if obj.ID() == 0 {
			obj.SetID(s.nextID)
			s.nextID++
		}
		b.objects = append(b.objects, obj)
	}
}

func (s *scene) Objects(key int) []game_object.GameObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.batches[key]; ok {
		return slices.Clone(b.objects)
	}
	return nil
}

func (s *scene) Get(id uint64) game_object.GameObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.order {
		for _, obj := range s.batches[key].objects {
			if obj.ID() == id {
				return obj
			}
		}
	}
	return nil
}

func (s *scene) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		b := s.batches[key]
		if i := slices.IndexFunc(b.objects, func(o game_object.GameObject) bool { return o.ID() == id }); i >= 0 {
			b.objects = slices.Delete(b.objects, i, i+1)
			b.versions = nil
			return true
		}
	}
	return false
}

func (s *scene) RemoveBatch(key int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[key]; !ok {
		return fmt.Errorf("%d: %w", key, ErrUnknownBatch)
	}
	delete(s.batches, key)
	s.order = slices.DeleteFunc(s.order, func(k int) bool { return k == key })
	return s.sys.DisposeRenderer(key)
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.batches {
		n += len(b.objects)
	}
	return n
}

func (s *scene) AddVegetation(layer VegetationLayer) (int, error) {
	if layer.Terrain == nil || !layer.Noise.Valid() || layer.Capacity <= 0 || layer.DetailResolution <= 0 {
		return 0, ErrInvalidLayer
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &vegetation{layer: layer}
	// A group of its own keeps the generated range from spilling into other sources.
	key, err := s.sys.RegisterRenderer(v, layer.Prototype, -s.nextGroup, render_source.TransformBufferMatrix4x4)
	if err != nil {
		return 0, err
	}
	s.nextGroup++
	if err := s.sys.SetBufferSize(key, layer.Capacity, false); err != nil {
		_ = s.sys.DisposeRenderer(key)
		return 0, err
	}
	counter, err := s.r.CreateBuffer(fmt.Sprintf("Vegetation Counter %d", key), 4,
		resource.BufferUsageStorage|resource.BufferUsageCopyDst|resource.BufferUsageCopySrc)
	if err != nil {
		_ = s.sys.DisposeRenderer(key)
		return 0, err
	}
	v.key, v.counter = key, counter
	s.vegetation = append(s.vegetation, v)
	return key, nil
}

func (s *scene) Update(deltaTime float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// A WaitGroup gives a per-call barrier; pool.Wait blocks until workers idle out.
	var wg sync.WaitGroup
	taskID := 0
	for _, key := range s.order {
		objects := s.batches[key].objects
		for start := 0; start < len(objects); start += chunkSize {
			chunk := objects[start:min(start+chunkSize, len(objects))]
			wg.Add(1)
			s.computePool.SubmitTask(worker.Task{
				ID: taskID,
				Do: func() (any, error) {
					defer wg.Done()
					for _, obj := range chunk {
						obj.Update(deltaTime)
					}
					return nil, nil
				},
			})
			taskID++
		}
	}
	wg.Wait()
}

func (s *scene) PrepareCompute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range s.order {
		if err := s.uploadBatch(s.batches[key]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(s.vegetation) > 0 && len(s.cameras) > 0 {
		camPos := s.cameras[0].Position()
		for _, v := range s.vegetation {
			if err := s.generate(v, camPos); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// uploadBatch packs the enabled objects of a changed batch to the front of its range.
func (s *scene) uploadBatch(b *batch) error {
	changed := len(b.versions) != len(b.objects)
	if !changed {
		for i, obj := range b.objects {
			if obj.Version() != b.versions[i] {
				changed = true
				break
			}
		}
	}
	if !changed {
		return nil
	}

	b.versions = b.versions[:0]
	b.live = b.live[:0]
	for _, obj := range b.objects {
		b.versions = append(b.versions, obj.Version())
		if obj.Enabled() {
			b.live = append(b.live, obj)
		}
	}

	src, err := s.sys.RenderSourceInfo(b.key)
	if err != nil {
		return err
	}
	if len(b.objects) > src.BufferSize {
		if err := s.sys.SetBufferSize(b.key, len(b.objects), true); err != nil {
			return err
		}
	}

	b.matrices = slices.Grow(b.matrices[:0], len(b.live))[:len(b.live)]
	var wg sync.WaitGroup
	for start := 0; start < len(b.live); start += chunkSize {
		end := min(start+chunkSize, len(b.live))
		wg.Add(1)
		s.computePool.SubmitTask(worker.Task{
			ID: start,
			Do: func() (any, error) {
				defer wg.Done()
				for i := start; i < end; i++ {
					b.matrices[i] = b.live[i].Transform()
				}
				return nil, nil
			},
		})
	}
	wg.Wait()

	if err := s.sys.SetTransformBufferData(b.key, b.matrices, 0, 0, len(b.matrices), !b.uploaded); err != nil {
		return err
	}
	b.uploaded = true
	return s.sys.SetInstanceCount(b.key, len(b.live))
}

// generate regenerates a vegetation layer around camPos and reads the generated count back.
func (s *scene) generate(v *vegetation, camPos mgl32.Vec3) error {
	src, err := s.sys.RenderSourceInfo(v.key)
	if err != nil {
		return err
	}
	var group render_source.RenderSourceGroup
	for _, g := range s.sys.Groups() {
		if g.Key() == src.Group {
			group = g
			break
		}
	}
	if group == nil || !group.TransformBuffer().Valid() {
		return nil
	}

	l := v.layer
	viewDistance := l.ViewDistance
	if viewDistance <= 0 {
		viewDistance = s.viewDistance
	}
	ran, err := l.Terrain.GenerateVegetation(l.Details, group.TransformBuffer(), v.counter, camPos, viewDistance, l.Noise, terrain.SizeAndIndexes{
		DetailResolution: l.DetailResolution,
		SubSettingIndex:  l.SubSettingIndex,
		StartIndex:       src.BufferStartIndex,
		MaxInstances:     src.BufferSize,
	})
	if err != nil {
		return err
	}
	count := 0
	if ran {
		data, err := s.r.ReadBuffer(v.counter)
		if err != nil {
			return err
		}
		if len(data) >= 4 {
			count = min(int(binary.LittleEndian.Uint32(data)), src.BufferSize)
		}
	}
	return s.sys.SetInstanceCount(v.key, count)
}

func (s *scene) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		if err := s.sys.DisposeRenderer(key); err != nil {
			s.logger.Debug("batch already disposed", zap.Int("renderer_key", key), zap.Error(err))
		}
	}
	for _, v := range s.vegetation {
		_ = s.sys.DisposeRenderer(v.key)
		s.r.ReleaseBuffer(v.counter)
	}
	s.batches = make(map[int]*batch)
	s.order, s.vegetation, s.cameras = nil, nil, nil
	s.computePool.Stop()
}
