package renderer

// memoryRendererBackend keeps every buffer in a host byte slice. It has no surface.
type memoryRendererBackend struct {
	buffers [bufferKindCount][]byte
}

// Ensure memoryRendererBackend implements RendererBackend interface.
var _ RendererBackend = &memoryRendererBackend{}

func newMemoryRendererBackend() *memoryRendererBackend {
	return &memoryRendererBackend{}
}

func (b *memoryRendererBackend) Grow(kind BufferKind, size uint64) error {
	if uint64(len(b.buffers[kind])) >= size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, b.buffers[kind])
	b.buffers[kind] = grown
	return nil
}

func (b *memoryRendererBackend) Capacity(kind BufferKind) uint64 {
	return uint64(len(b.buffers[kind]))
}

func (b *memoryRendererBackend) Write(kind BufferKind, offset uint64, data []byte) error {
	copy(b.buffers[kind][offset:], data)
	return nil
}

func (b *memoryRendererBackend) Read(kind BufferKind, offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	copy(out, b.buffers[kind][offset:offset+size])
	return out, nil
}

func (b *memoryRendererBackend) ConfigureSurface(int, int) {}
func (b *memoryRendererBackend) BeginFrame() error         { return nil }
func (b *memoryRendererBackend) EndFrame()                 {}
func (b *memoryRendererBackend) Present()                  {}

func (b *memoryRendererBackend) Release() {
	for i := range b.buffers {
		b.buffers[i] = nil
	}
}
