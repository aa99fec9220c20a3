package renderer

import "errors"

// RendererBackendType identifies the backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU backend. Buffers live in GPU storage buffers.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeMemory keeps every buffer in host memory. Used headless and in tests.
	BackendTypeMemory
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the display refresh rate.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	PresentModeUncapped
)

// BufferKind names one of the persistent buffers the renderer hosts.
type BufferKind int

const (
	// BufferInstanceData is the per-instance property pool addressed by the GPU heap.
	BufferInstanceData BufferKind = iota

	// BufferMetadata holds the ChunkProperty records addressed by the metadata heap.
	BufferMetadata

	bufferKindCount
)

func (k BufferKind) String() string {
	switch k {
	case BufferInstanceData:
		return "instance-data"
	case BufferMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownBuffer is returned for a BufferKind the renderer does not host.
	ErrUnknownBuffer = errors.New("renderer: unknown buffer kind")
	// ErrOutOfBounds is returned for writes or reads past a buffer's capacity.
	ErrOutOfBounds = errors.New("renderer: access out of buffer bounds")
	// ErrReadbackUnsupported is returned by backends that cannot read buffers back synchronously.
	ErrReadbackUnsupported = errors.New("renderer: buffer readback not supported by backend")
	// ErrReleased is returned after Release.
	ErrReleased = errors.New("renderer: renderer released")
)

// BufferWrite describes one upload into a hosted buffer at a byte offset.
type BufferWrite struct {
	Buffer BufferKind
	Offset uint64
	Data   []byte
}

// RendererBackend is the API-specific half of the Renderer. Calls are serialized by the Renderer.
type RendererBackend interface {
	// Grow makes a buffer at least size bytes large, preserving its contents.
	Grow(kind BufferKind, size uint64) error

	// Capacity returns a buffer's current size.
	Capacity(kind BufferKind) uint64

	// Write uploads data. Bounds are checked by the Renderer.
	Write(kind BufferKind, offset uint64, data []byte) error

	// Read copies size bytes starting at offset back to the host.
	Read(kind BufferKind, offset, size uint64) ([]byte, error)

	// ConfigureSurface (re)configures the presentation surface; a no-op without one.
	ConfigureSurface(width, height int)

	// BeginFrame acquires the next surface image and clears it.
	BeginFrame() error

	// EndFrame submits the frame's command buffer.
	EndFrame()

	// Present shows the acquired surface image.
	Present()

	// Release frees every GPU resource.
	Release()
}
