package parameter_buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"go.uber.org/zap"
)

var (
	// ErrEmptyOwner is returned when Set is called with an empty owner key.
	ErrEmptyOwner = errors.New("parameter buffer: empty owner")
	// ErrSliceGrew is returned when an owner re-pushes more values than it first allocated.
	ErrSliceGrew = errors.New("parameter buffer: owner slice grew")
)

type allocation struct {
	start, count int
}

// parameterBuffer is the implementation of the ParameterBuffer interface.
type parameterBuffer struct {
	mu          *sync.Mutex
	logger      *zap.Logger
	label       string
	values      []float32
	allocations map[string]allocation
	dirty       bool
	gpu         *resource.Buffer
}

// ParameterBuffer is a single append-only float array shared by every consumer that needs
// per-object configuration on the GPU (profile culling thresholds, LOD transition distances).
// Each owner receives a stable start index on first Set; later Sets overwrite the same slice.
type ParameterBuffer interface {
	// Set writes values for an owner, allocating a new slice at the end of the buffer on first use.
	// A later Set may write fewer values than the allocation but never more.
	//
	// Parameters:
	//   - owner: the stable owner key
	//   - values: the owner's parameters
	//
	// Returns:
	//   - int: the owner's start index in the float array
	//   - error: ErrEmptyOwner or ErrSliceGrew
	Set(owner string, values []float32) (int, error)

	// Index returns the start index allocated to an owner.
	//
	// Parameters:
	//   - owner: the owner key
	//
	// Returns:
	//   - int: the start index
	//   - bool: false if the owner has never been Set
	Index(owner string) (int, bool)

	// Values returns a copy of the float array.
	//
	// Returns:
	//   - []float32: the current values
	Values() []float32

	// Len returns the number of floats allocated.
	//
	// Returns:
	//   - int: the length of the float array
	Len() int

	// Dirty reports whether values changed since the last Upload.
	//
	// Returns:
	//   - bool: true if an upload is pending
	Dirty() bool

	// Upload writes the float array to its GPU buffer when dirty, growing the buffer as needed.
	//
	// Parameters:
	//   - r: the renderer that owns the buffer
	//
	// Returns:
	//   - error: an error if the buffer cannot be created or written
	Upload(r renderer.Renderer) error

	// Buffer returns the GPU buffer, or nil before the first Upload.
	//
	// Returns:
	//   - *resource.Buffer: the storage buffer
	Buffer() *resource.Buffer

	// Reset drops every allocation. Only a full system reset calls this.
	Reset()

	// Release frees the GPU buffer.
	//
	// Parameters:
	//   - r: the renderer that owns the buffer
	Release(r renderer.Renderer)
}

var _ ParameterBuffer = &parameterBuffer{}

// NewParameterBuffer creates an empty ParameterBuffer.
//
// Parameters:
//   - options: variadic list of ParameterBufferBuilderOption functions
//
// Returns:
//   - ParameterBuffer: the new parameter buffer
func NewParameterBuffer(options ...ParameterBufferBuilderOption) ParameterBuffer {
	p := &parameterBuffer{
		mu:          &sync.Mutex{},
		logger:      zap.NewNop(),
		label:       "Parameter Buffer",
		allocations: make(map[string]allocation),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *parameterBuffer) Set(owner string, values []float32) (int, error) {
	if owner == "" {
		return -1, ErrEmptyOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.allocations[owner]
	if !ok {
		a = allocation{start: len(p.values), count: len(values)}
		p.values = append(p.values, values...)
		p.allocations[owner] = a
		p.dirty = true
		return a.start, nil
	}
	if len(values) > a.count {
		return a.start, fmt.Errorf("%s: %d values, %d allocated: %w", owner, len(values), a.count, ErrSliceGrew)
	}
	copy(p.values[a.start:a.start+a.count], values)
	p.dirty = true
	return a.start, nil
}

func (p *parameterBuffer) Index(owner string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.allocations[owner]
	return a.start, ok
}

func (p *parameterBuffer) Values() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float32(nil), p.values...)
}

func (p *parameterBuffer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}

func (p *parameterBuffer) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

func (p *parameterBuffer) Upload(r renderer.Renderer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dirty && p.gpu.Valid() {
		return nil
	}
	size := uint64(max(len(p.values), 1) * 4)
	if !p.gpu.Valid() || p.gpu.Size() < size {
		if p.gpu != nil {
			r.ReleaseBuffer(p.gpu)
		}
		// Grow geometrically so steady registration does not reallocate every frame.
		capacity := size
		if p.gpu != nil {
			capacity = max(size, p.gpu.Size()*2)
		}
		buf, err := r.CreateBuffer(p.label, capacity, resource.BufferUsageStorage|resource.BufferUsageCopyDst)
		if err != nil {
			p.gpu = nil
			return fmt.Errorf("create parameter buffer: %w", err)
		}
		p.gpu = buf
		p.logger.Debug("parameter buffer resized", zap.Uint64("bytes", capacity))
	}
	if len(p.values) > 0 {
		if err := r.WriteBuffer(p.gpu, 0, common.Float32sToBytes(p.values)); err != nil {
			return fmt.Errorf("write parameter buffer: %w", err)
		}
	}
	p.dirty = false
	return nil
}

func (p *parameterBuffer) Buffer() *resource.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gpu
}

func (p *parameterBuffer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = p.values[:0]
	clear(p.allocations)
	p.dirty = true
}

func (p *parameterBuffer) Release(r renderer.Renderer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gpu != nil {
		r.ReleaseBuffer(p.gpu)
		p.gpu = nil
	}
	p.dirty = true
}
