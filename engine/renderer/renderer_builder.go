package renderer

import (
	"log/slog"

	"github.com/cogentcore/webgpu/wgpu"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithSurface attaches a presentation surface to the WebGPU backend. Without one the backend runs
// headless and BeginFrame/EndFrame/Present are no-ops.
//
// Parameters:
//   - descriptor: the platform surface descriptor (see window.Window.SurfaceDescriptor)
//   - width, height: the initial surface size in pixels
//
// Returns:
//   - RendererBuilderOption: a function that applies the surface option to a renderer
func WithSurface(descriptor *wgpu.SurfaceDescriptor, width, height int) RendererBuilderOption {
	return func(r *renderer) {
		r.surfaceDescriptor = descriptor
		r.width = width
		r.height = height
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithPresentMode sets the surface present mode. Default is PresentModeUncapped.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.presentMode = mode
	}
}

// WithInitialCapacity sets the initial size of a hosted buffer. Buffers otherwise start empty and
// grow on EnsureCapacity.
//
// Parameters:
//   - kind: the buffer
//   - size: the initial size in bytes
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithInitialCapacity(kind BufferKind, size uint64) RendererBuilderOption {
	return func(r *renderer) {
		if kind >= 0 && kind < bufferKindCount {
			r.initial[kind] = size
		}
	}
}

// WithLogger sets the structured logger for device lifecycle and buffer growth.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - RendererBuilderOption: a function that applies the logger option to a renderer
func WithLogger(logger *slog.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}
