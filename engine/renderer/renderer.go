package renderer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	logger      *slog.Logger
	backendType RendererBackendType
	backend     RendererBackend

	bytesWritten *atomic.Uint64
	released     bool

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	presentMode          PresentMode
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	width, height        int
	initial              [bufferKindCount]uint64
}

// Renderer hosts the persistent GPU buffers the batching engine uploads into: the per-instance data
// pool and the metadata pool. It is the upload half of the draw-submission boundary; culling results
// are consumed elsewhere.
//
// The Renderer also implements a backend which allows for multiple backend API implementations to exist.
// All methods are safe for concurrent use.
type Renderer interface {
	// BackendType returns the backend the renderer was created with.
	BackendType() RendererBackendType

	// EnsureCapacity grows a hosted buffer to at least size bytes, preserving its contents.
	// Buffers never shrink.
	//
	// Parameters:
	//   - kind: the buffer to grow
	//   - size: the minimum size in bytes
	//
	// Returns:
	//   - error: ErrUnknownBuffer, ErrReleased or a backend failure
	EnsureCapacity(kind BufferKind, size uint64) error

	// Capacity returns the current size of a hosted buffer in bytes.
	Capacity(kind BufferKind) uint64

	// WriteBuffers uploads a set of writes as one batch. Every write is bounds checked before any is
	// applied, so a failed call leaves the buffers unchanged.
	//
	// Parameters:
	//   - writes: the uploads to perform
	//
	// Returns:
	//   - CompletionHandle: completes once the writes are visible to GPU work submitted afterwards
	//   - error: ErrUnknownBuffer, ErrOutOfBounds, ErrReleased or a backend failure
	WriteBuffers(writes []BufferWrite) (CompletionHandle, error)

	// ReadBuffer copies a range of a hosted buffer back to the host.
	//
	// Parameters:
	//   - kind: the buffer to read
	//   - offset: the first byte
	//   - size: the number of bytes
	//
	// Returns:
	//   - []byte: a copy of the range
	//   - error: ErrOutOfBounds, ErrReadbackUnsupported or ErrReleased
	ReadBuffer(kind BufferKind, offset, size uint64) ([]byte, error)

	// BytesWritten returns the total number of bytes uploaded through WriteBuffers.
	BytesWritten() uint64

	// Resize configures the underlying backend to handle a new surface size.
	// This should be called when re-sizing the window or when the surface size should change.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// BeginFrame acquires the next surface image and clears it. A no-op without a surface.
	//
	// Returns:
	//   - error: an error if the surface image could not be acquired
	BeginFrame() error

	// EndFrame submits the frame's commands. A no-op without a surface.
	EndFrame()

	// Present shows the frame on the surface. A no-op without a surface.
	Present()

	// Release frees the backend and every hosted buffer. Later calls fail with ErrReleased.
	Release()
}

// Ensure renderer implements Renderer interface.
var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer with the specified backend type and options.
// The WebGPU backend requests an adapter and device immediately and panics if none is available.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - options: functional options to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of the Renderer
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:           &sync.Mutex{},
		logger:       common.NopLogger(),
		backendType:  backendType,
		bytesWritten: &atomic.Uint64{},
		presentMode:  PresentModeUncapped,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	switch backendType {
	case BackendTypeMemory:
		r.backend = newMemoryRendererBackend()
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend = newWGPURendererBackend(r.surfaceDescriptor, r.forceFallbackAdapter, r.presentMode, r.logger)
	}

	for kind, size := range r.initial {
		if size == 0 {
			continue
		}
		if err := r.backend.Grow(BufferKind(kind), size); err != nil {
			panic(fmt.Sprintf("renderer: failed to allocate initial %s buffer: %v", BufferKind(kind), err))
		}
	}
	if r.surfaceDescriptor != nil {
		r.backend.ConfigureSurface(r.width, r.height)
	}
	return r
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (r *renderer) EnsureCapacity(kind BufferKind, size uint64) error {
	if kind < 0 || kind >= bufferKindCount {
		return fmt.Errorf("ensure capacity %d: %w", kind, ErrUnknownBuffer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	current := r.backend.Capacity(kind)
	if size <= current {
		return nil
	}
	if err := r.backend.Grow(kind, size); err != nil {
		return fmt.Errorf("grow %s buffer to %d bytes: %w", kind, size, err)
	}
	r.logger.Debug("buffer grown", "buffer", kind.String(), "from", current, "to", r.backend.Capacity(kind))
	return nil
}

func (r *renderer) Capacity(kind BufferKind) uint64 {
	if kind < 0 || kind >= bufferKindCount {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return 0
	}
	return r.backend.Capacity(kind)
}

func (r *renderer) WriteBuffers(writes []BufferWrite) (CompletionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}

	for i, w := range writes {
		if w.Buffer < 0 || w.Buffer >= bufferKindCount {
			return nil, fmt.Errorf("write %d: %w", i, ErrUnknownBuffer)
		}
		if limit := r.backend.Capacity(w.Buffer); w.Offset+uint64(len(w.Data)) > limit {
			return nil, fmt.Errorf("write %d to %s [%d, %d) capacity %d: %w",
				i, w.Buffer, w.Offset, w.Offset+uint64(len(w.Data)), limit, ErrOutOfBounds)
		}
	}

	var total uint64
	for _, w := range writes {
		if len(w.Data) == 0 {
			continue
		}
		if err := r.backend.Write(w.Buffer, w.Offset, w.Data); err != nil {
			return nil, fmt.Errorf("write %s at %d: %w", w.Buffer, w.Offset, err)
		}
		total += uint64(len(w.Data))
	}
	r.bytesWritten.Add(total)
	return CompletedHandle(), nil
}

func (r *renderer) ReadBuffer(kind BufferKind, offset, size uint64) ([]byte, error) {
	if kind < 0 || kind >= bufferKindCount {
		return nil, fmt.Errorf("read %d: %w", kind, ErrUnknownBuffer)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if offset+size > r.backend.Capacity(kind) {
		return nil, fmt.Errorf("read %s [%d, %d): %w", kind, offset, offset+size, ErrOutOfBounds)
	}
	return r.backend.Read(kind, offset, size)
}

func (r *renderer) BytesWritten() uint64 {
	return r.bytesWritten.Load()
}

func (r *renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.width, r.height = width, height
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	return r.backend.BeginFrame()
}

func (r *renderer) EndFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.released {
		r.backend.EndFrame()
	}
}

func (r *renderer) Present() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.released {
		r.backend.Present()
	}
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.backend.Release()
}
