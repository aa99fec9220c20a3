package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancing/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancing/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancing/engine/view"
	"github.com/Carmen-Shannon/oxy-instancing/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithScene sets the scene the engine batches. Required.
//
// Parameters:
//   - s: the Scene
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scene = s
	}
}

// WithRegistry sets a pre-configured batch registry. It must use the scene's catalog.
//
// Parameters:
//   - r: the Registry
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRegistry(r batch.Registry) EngineBuilderOption {
	return func(e *engine) {
		e.registry = r
	}
}

// WithRenderer sets the GPU buffer host. A renderer passed here is not released by the engine.
//
// Parameters:
//   - r: the Renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderer(r renderer.Renderer) EngineBuilderOption {
	return func(e *engine) {
		e.renderer = r
	}
}

// WithPipeline sets a pre-configured culling pipeline. It must be built over the engine's scene,
// registry and renderer.
//
// Parameters:
//   - p: the Pipeline
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPipeline(p culling.Pipeline) EngineBuilderOption {
	return func(e *engine) {
		e.pipeline = p
	}
}

// WithSubmitter sets the draw-submission collaborator of the default pipeline. Ignored when
// WithPipeline is used.
//
// Parameters:
//   - s: the Submitter
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSubmitter(s culling.Submitter) EngineBuilderOption {
	return func(e *engine) {
		e.submitter = s
	}
}

// WithWindow sets a window whose surface the default renderer presents to.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithView registers a view at the given key during engine construction.
//
// Parameters:
//   - key: the ordering key (lower culls first)
//   - v: the view
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithView(key int, v view.View) EngineBuilderOption {
	return func(e *engine) {
		e.views[key] = v
	}
}

// WithProfiling enables or disables periodic statistics output.
//
// Parameters:
//   - enabled: if true, enables profiling
//   - options: options for the profiler, such as its update interval
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool, options ...profiler.ProfilerBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
		e.profilerOptions = append(e.profilerOptions, options...)
	}
}

// WithTickRate sets the tick callback rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithLogger sets the structured logger. It is also handed to every component the engine creates.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
