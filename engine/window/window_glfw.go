package window

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

var errNotOpen = errors.New("window: not open")

// glfwWindow is the GLFW handle behind an engineWindow.
type glfwWindow struct {
	handle *glfw.Window
	closed bool
}

// newPlatformWindow opens a GLFW window without a client API, since WebGPU drives the surface.
// GLFW must stay on the creating OS thread, so the thread is locked for the window's lifetime.
func newPlatformWindow(w *engineWindow) error {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	handle, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("create glfw window: %w", err)
	}
	handle.SetSizeLimits(w.minWidth, w.minHeight, w.maxWidth, w.maxHeight)

	gw := &glfwWindow{handle: handle}
	w.internalWindow = gw
	gw.bind(w)

	// Surfaces are sized in pixels, which differ from screen coordinates on high-DPI displays.
	w.width, w.height = handle.GetFramebufferSize()
	return nil
}

// bind routes the GLFW events the engine consumes to the window's callbacks.
func (gw *glfwWindow) bind(w *engineWindow) {
	gw.handle.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		if key == glfw.KeyEscape {
			gw.handle.SetShouldClose(true)
			return
		}
		if w.onKeyDown != nil {
			w.onKeyDown(uint32(key))
		}
	})

	gw.handle.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		// Minimizing reports 0x0; keep the last usable size.
		if width == 0 || height == 0 {
			return
		}
		w.width, w.height = width, height
		if w.onResize != nil {
			w.onResize(width, height)
		}
	})
}

func platformWindow(w *engineWindow) (*glfwWindow, bool) {
	gw, ok := w.internalWindow.(*glfwWindow)
	return gw, ok && !gw.closed
}

func platformGetSurfaceDescriptor(w *engineWindow) *wgpu.SurfaceDescriptor {
	gw, ok := platformWindow(w)
	if !ok {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(gw.handle)
}

func platformIsRunningCheck(w *engineWindow) bool {
	gw, ok := platformWindow(w)
	return ok && !gw.handle.ShouldClose()
}

func platformCloseWindow(w *engineWindow) error {
	gw, ok := platformWindow(w)
	if !ok {
		return errNotOpen
	}
	gw.closed = true
	gw.handle.Destroy()
	glfw.Terminate()
	w.logger.Info("window closed", "title", w.title)
	return nil
}

// platformProcessMessages polls pending events without blocking.
func platformProcessMessages(w *engineWindow) bool {
	glfw.PollEvents()
	return platformIsRunningCheck(w)
}
