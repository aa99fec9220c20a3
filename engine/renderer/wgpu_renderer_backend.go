package renderer

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// copyAlignment is the WebGPU requirement for buffer sizes, offsets and write lengths.
const copyAlignment = 4

var bufferLabels = [bufferKindCount]string{
	BufferInstanceData: "Instance Data Buffer",
	BufferMetadata:     "Metadata Buffer",
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	logger *slog.Logger

	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat *wgpu.TextureFormat
	presentMode   wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)

	buffers    [bufferKindCount]*wgpu.Buffer
	capacities [bufferKindCount]uint64

	// Frame state for the surface clear pass
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
}

// Ensure wgpuRendererBackendImpl implements RendererBackend interface.
var _ RendererBackend = &wgpuRendererBackendImpl{}

// newWGPURendererBackend requests an adapter and device. A nil surfaceDescriptor runs headless.
func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, mode PresentMode, logger *slog.Logger) *wgpuRendererBackendImpl {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		logger:      logger,
		instance:    wgpu.CreateInstance(nil),
		presentMode: toWGPUPresentMode(mode),
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Instancing Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	logger.Info("renderer device acquired", "fallback", forceFallbackAdapter, "surface", w.surface != nil)
	return w
}

func toWGPUPresentMode(mode PresentMode) wgpu.PresentMode {
	if mode == PresentModeVSync {
		return wgpu.PresentModeFifo
	}
	return wgpu.PresentModeImmediate
}

func (b *wgpuRendererBackendImpl) Grow(kind BufferKind, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size = common.AlignUp(size, copyAlignment)
	if size <= b.capacities[kind] {
		return nil
	}
	next, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            bufferLabels[kind],
		Size:             size,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		MappedAtCreation: false,
	})
	if err != nil {
		return err
	}

	old := b.buffers[kind]
	if old != nil && b.capacities[kind] > 0 {
		encoder, err := b.device.CreateCommandEncoder(nil)
		if err != nil {
			next.Release()
			return err
		}
		encoder.CopyBufferToBuffer(old, 0, next, 0, b.capacities[kind])
		commandBuffer, err := encoder.Finish(nil)
		if err != nil {
			encoder.Release()
			next.Release()
			return err
		}
		b.queue.Submit(commandBuffer)
		commandBuffer.Release()
		encoder.Release()
		old.Release()
	}

	b.buffers[kind] = next
	b.capacities[kind] = size
	return nil
}

func (b *wgpuRendererBackendImpl) Capacity(kind BufferKind) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacities[kind]
}

func (b *wgpuRendererBackendImpl) Write(kind BufferKind, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.buffers[kind]
	if buf == nil {
		return fmt.Errorf("%s buffer not allocated", kind)
	}
	if offset%copyAlignment != 0 {
		return fmt.Errorf("write offset %d not %d-byte aligned", offset, copyAlignment)
	}
	if rem := len(data) % copyAlignment; rem != 0 {
		if offset+uint64(len(data)+copyAlignment-rem) > b.capacities[kind] {
			return ErrOutOfBounds
		}
		padded := make([]byte, len(data)+copyAlignment-rem)
		copy(padded, data)
		data = padded
	}
	b.queue.WriteBuffer(buf, offset, data)
	return nil
}

func (b *wgpuRendererBackendImpl) Read(BufferKind, uint64, uint64) ([]byte, error) {
	return nil, ErrReadbackUnsupported
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil || width <= 0 || height <= 0 {
		return
	}
	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = &capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil || b.surfaceFormat == nil {
		return nil
	}
	if b.frameSurface != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.1, G: 0.1, B: 0.12, A: 1},
		}},
	})

	b.frameEncoder = encoder
	b.framePass = pass
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return
	}
	b.framePass.End()

	commandBuffer, err := b.frameEncoder.Finish(nil)
	if err != nil {
		b.frameEncoder.Release()
		b.frameView.Release()
		b.frameSurface.Release()
		b.frameEncoder = nil
		b.framePass = nil
		b.frameSurface = nil
		b.frameView = nil
		return
	}

	b.queue.Submit(commandBuffer)

	commandBuffer.Release()
	b.frameEncoder.Release()
	b.frameEncoder = nil
	b.framePass = nil
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If no frame surface is held, nothing to present.
	if b.frameSurface == nil {
		return
	}

	b.surface.Present()

	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, buf := range b.buffers {
		if buf != nil {
			buf.Release()
			b.buffers[i] = nil
			b.capacities[i] = 0
		}
	}
	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}
