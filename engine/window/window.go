// package window hosts a GLFW window with a WebGPU surface for the demo programs. The engine runs
// headless without one.
package window

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// Window provides platform windowing and the few input events the demos use.
type Window interface {
	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: receives the new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetKeyDownCallback sets the function called when a key is pressed or repeats.
	//
	// Parameters:
	//   - callback: receives the GLFW key code
	SetKeyDownCallback(callback func(keyCode uint32))

	// SurfaceDescriptor returns the platform surface descriptor for the renderer.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the descriptor, nil if the window is closed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is still open.
	IsRunning() bool

	// Close destroys the window, whether or not the user already asked it to close.
	//
	// Returns:
	//   - error: error if the window was already destroyed
	Close() error

	// ProcessMessages runs the message loop until the window closes. It must be called from the
	// goroutine that created the window.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	logger *slog.Logger

	title     string
	minWidth  int
	minHeight int
	maxWidth  int
	maxHeight int
	width     int
	height    int

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onUpdate  func()
	onResize  func(width, height int)
	onKeyDown func(keyCode uint32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a window. It panics if the platform window cannot be created.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
func NewWindow(options ...WindowBuilderOption) Window {
	w := &engineWindow{
		logger:    common.NopLogger(),
		title:     "oxy-instancing",
		minWidth:  320,
		minHeight: 200,
		maxWidth:  3840,
		maxHeight: 2160,
		width:     1280,
		height:    720,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		panic(fmt.Sprintf("window: failed to create platform window: %v", err))
	}
	w.logger.Info("window created", "title", w.title, "width", w.width, "height", w.height)
	return w
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if ok := platformProcessMessages(w); !ok {
			break
		}
		if w.onUpdate != nil {
			w.onUpdate()
		}
		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int {
	return w.width
}

func (w *engineWindow) Height() int {
	return w.height
}
