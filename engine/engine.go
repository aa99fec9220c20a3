// package engine ties the instancing components into a frame: batch maintenance against the scene,
// one culling pass per registered view, and the frame's upload dispatch. It also owns the optional
// tick and render loops used by the demo programs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancing/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancing/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancing/engine/view"
	"github.com/Carmen-Shannon/oxy-instancing/engine/window"
)

// ErrNoViews is returned by Frame when no view is registered.
var ErrNoViews = errors.New("engine: no views registered")

// FrameStats summarizes one Frame call.
type FrameStats struct {
	Frame        uint64
	Update       batch.FrameReport
	Passes       int
	Visible      int
	FailedPasses int
	Dispatch     culling.DispatchReport
	Duration     time.Duration
}

// Engine is the main entry point. It drives the per-frame order update → passes → dispatch and can
// run that frame continuously alongside a fixed-rate tick callback.
type Engine interface {
	// Scene returns the scene the engine batches.
	Scene() scene.Scene

	// Registry returns the batch registry.
	Registry() batch.Registry

	// Pipeline returns the culling pipeline.
	Pipeline() culling.Pipeline

	// Renderer returns the GPU buffer host.
	Renderer() renderer.Renderer

	// Window returns the demo window, nil when running headless.
	Window() window.Window

	// AddView registers a view at the given key. Views are culled in ascending key order.
	//
	// Parameters:
	//   - key: the ordering key (lower culls first)
	//   - v: the view
	AddView(key int, v view.View)

	// RemoveView removes the view at the given key.
	//
	// Parameters:
	//   - key: the key of the view to remove
	RemoveView(key int)

	// View returns the view registered at key, nil if none is.
	View(key int) view.View

	// Frame runs one complete frame: registry update, one culling pass per view and the upload dispatch.
	// Failed passes are counted, not returned.
	//
	// Parameters:
	//   - ctx: cancels waits on outstanding GPU work
	//
	// Returns:
	//   - FrameStats: what the frame did
	//   - error: ErrNoViews, ctx.Err() or a pipeline protocol error
	Frame(ctx context.Context) (FrameStats, error)

	// EnableProfiler enables periodic statistics output to the logger.
	EnableProfiler()

	// DisableProfiler disables periodic statistics output.
	DisableProfiler()

	// SetTickRate sets the tick callback rate in ticks per second (60 if <= 0).
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each tick with the elapsed seconds.
	// Scene writes belong here.
	SetTickCallback(callback func(deltaTime float32))

	// SetFrameCallback registers the function called after each frame of the render loop.
	SetFrameCallback(callback func(stats FrameStats))

	// SetRenderFrameLimit caps the render loop in frames per second. 0 uncaps it.
	SetRenderFrameLimit(fps float64)

	// Run starts the tick and render loops. With a window it processes window messages on the calling
	// goroutine until the window closes; headless it blocks until Quit.
	Run()

	// Quit signals every loop to stop. Safe to call multiple times.
	Quit()
}

// engine implements the Engine interface.
type engine struct {
	mu *sync.Mutex

	logger *slog.Logger

	scene     scene.Scene
	registry  batch.Registry
	pipeline  culling.Pipeline
	renderer  renderer.Renderer
	submitter culling.Submitter
	window    window.Window

	ownsRenderer bool

	views map[int]view.View

	tickRateChannel chan time.Duration
	running         *atomic.Bool
	wg              sync.WaitGroup
	quitChannel     chan struct{}
	quitOnce        sync.Once

	profiler         *profiler.Profiler
	profilerOptions  []profiler.ProfilerBuilderOption
	profilingEnabled *atomic.Bool

	engineTickRate   time.Duration
	renderFrameLimit time.Duration
	tickCallback     func(deltaTime float32)
	frameCallback    func(stats FrameStats)
}

// Ensure engine implements Engine interface.
var _ Engine = &engine{}

// NewEngine creates an Engine. A scene is required and NewEngine panics without one. Missing
// components are created with defaults: a registry over the scene's catalog, a renderer (WebGPU on the
// window's surface when a window is set, memory otherwise) and a pipeline tying them together.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		mu:               &sync.Mutex{},
		logger:           common.NopLogger(),
		views:            make(map[int]view.View),
		tickRateChannel:  make(chan time.Duration, 1),
		running:          &atomic.Bool{},
		quitChannel:      make(chan struct{}),
		profilingEnabled: &atomic.Bool{},
		engineTickRate:   time.Second / 60,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.scene == nil {
		panic("engine: NewEngine requires a Scene")
	}

	if e.registry == nil {
		e.registry = batch.NewRegistry(e.scene.Catalog(), batch.WithLogger(e.logger))
	}
	if e.renderer == nil {
		e.renderer = e.defaultRenderer()
		e.ownsRenderer = true
	}
	if e.pipeline == nil {
		e.pipeline = culling.NewPipeline(e.scene, e.registry, e.renderer, e.submitter, culling.WithLogger(e.logger))
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(append([]profiler.ProfilerBuilderOption{profiler.WithLogger(e.logger)}, e.profilerOptions...)...)
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			if width <= 0 || height <= 0 {
				return
			}
			e.renderer.Resize(width, height)
			e.mu.Lock()
			defer e.mu.Unlock()
			for _, v := range e.views {
				if a, ok := v.(interface{ SetAspect(float32) }); ok {
					a.SetAspect(float32(width) / float32(height))
				}
			}
		})
	}
	return e
}

func (e *engine) defaultRenderer() renderer.Renderer {
	if e.window == nil {
		return renderer.NewRenderer(renderer.BackendTypeMemory, renderer.WithLogger(e.logger))
	}
	return renderer.NewRenderer(renderer.BackendTypeWGPU,
		renderer.WithSurface(e.window.SurfaceDescriptor(), e.window.Width(), e.window.Height()),
		renderer.WithLogger(e.logger),
	)
}

func (e *engine) Scene() scene.Scene          { return e.scene }
func (e *engine) Registry() batch.Registry    { return e.registry }
func (e *engine) Pipeline() culling.Pipeline  { return e.pipeline }
func (e *engine) Renderer() renderer.Renderer { return e.renderer }
func (e *engine) Window() window.Window       { return e.window }

func (e *engine) AddView(key int, v view.View) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.views[key] = v
}

func (e *engine) RemoveView(key int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.views, key)
}

func (e *engine) View(key int) view.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.views[key]
}

// orderedViews snapshots the views in ascending key order.
func (e *engine) orderedViews() []view.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]int, 0, len(e.views))
	for k := range e.views {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]view.View, len(keys))
	for i, k := range keys {
		out[i] = e.views[k]
	}
	return out
}

func (e *engine) Frame(ctx context.Context) (FrameStats, error) {
	start := time.Now()
	views := e.orderedViews()
	if len(views) == 0 {
		return FrameStats{}, ErrNoViews
	}

	report, err := e.registry.Update(ctx, e.scene)
	if err != nil {
		return FrameStats{}, fmt.Errorf("update batches: %w", err)
	}
	if err := e.pipeline.BeginFrame(ctx); err != nil {
		return FrameStats{}, fmt.Errorf("begin frame: %w", err)
	}

	stats := FrameStats{Frame: e.pipeline.Frame(), Update: report}
	for _, v := range views {
		res, err := e.pipeline.Cull(ctx, v.Parameters())
		if err != nil {
			// Close the frame so the next BeginFrame is accepted.
			if _, endErr := e.pipeline.EndFrame(context.WithoutCancel(ctx)); endErr != nil {
				e.logger.Warn("end frame after failed pass", "error", endErr)
			}
			return stats, fmt.Errorf("cull pass %d: %w", stats.Passes, err)
		}
		stats.Passes++
		stats.Visible += res.VisibleCount
		if res.Err != nil {
			stats.FailedPasses++
		}
	}

	dispatch, err := e.pipeline.EndFrame(ctx)
	if err != nil {
		return stats, fmt.Errorf("end frame: %w", err)
	}
	stats.Dispatch = dispatch

	if e.window != nil {
		if err := e.renderer.BeginFrame(); err == nil {
			e.renderer.EndFrame()
			e.renderer.Present()
		} else {
			e.logger.Debug("surface frame skipped", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	e.logger.Debug("frame",
		"frame", stats.Frame,
		"batches", report.LiveBatches,
		"passes", stats.Passes,
		"visible", stats.Visible,
		"uploaded", dispatch.Bytes,
		"duration", stats.Duration,
	)

	if e.profilingEnabled.Load() {
		gpu, meta := e.registry.GPUHeap(), e.registry.MetadataHeap()
		e.profiler.Record(profiler.FrameSample{
			LiveBatches:   report.LiveBatches,
			UploadedBytes: dispatch.Bytes,
			Passes:        stats.Passes,
			Visible:       stats.Visible,
			FailedPasses:  stats.FailedPasses,
			GPUHeapUsed:   gpu.UsedSpace(),
			GPUHeapSize:   gpu.Size(),
			MetadataUsed:  meta.UsedSpace(),
		})
		e.profiler.Tick()
	}
	return stats, nil
}

func (e *engine) Run() {
	e.running.Store(true)
	e.wg.Add(2)
	go e.handleTick()
	go e.handleRender()

	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()

	if e.ownsRenderer {
		e.renderer.Release()
	}
	if e.window != nil {
		if err := e.window.Close(); err != nil {
			e.logger.Debug("window already closed", "error", err)
		}
	}
}

func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running.Store(false)
		close(e.quitChannel)
	})
}

// handleTick fires the tick callback at the configured rate and picks up rate changes from
// tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs frames back to back (or frame-limited) until quit. A panic inside a frame is
// logged and stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("render loop recovered from panic", "panic", r)
			e.signalQuit()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.quitChannel
		cancel()
	}()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		frameStart := time.Now()
		stats, err := e.Frame(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrNoViews):
			time.Sleep(time.Millisecond)
		case err != nil:
			e.logger.Error("frame failed", "error", err)
		case e.frameCallback != nil:
			e.frameCallback(stats)
		}

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(frameStart); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetTickRate takes effect immediately when the engine is running.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if !e.running.Load() {
		e.engineTickRate = newRate
		return
	}
	// Replace a pending update rather than block.
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetFrameCallback(callback func(stats FrameStats)) {
	e.frameCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
