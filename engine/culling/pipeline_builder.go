package culling

import (
	"log/slog"
	"runtime"
)

const (
	// DefaultArenaWords is the size of each worker arena in 32-bit words.
	DefaultArenaWords = 1 << 20

	// DefaultDeformationWords is the number of arena words reserved per visible deformed instance.
	DefaultDeformationWords = 12

	// DefaultMaxPassesBeforeRewind is the pass count after which arenas are rewound within a frame.
	DefaultMaxPassesBeforeRewind = 32
)

func defaultWorkers() int {
	return max(1, runtime.NumCPU())
}

// PipelineBuilderOption is a functional option applied to a pipeline during construction via NewPipeline.
type PipelineBuilderOption func(*pipeline)

// WithWorkers sets how many batch tasks run concurrently, which is also the number of arenas.
// Default is runtime.NumCPU().
//
// Parameters:
//   - n: the worker count, ignored when not positive
//
// Returns:
//   - PipelineBuilderOption: a function that applies the option to a pipeline
func WithWorkers(n int) PipelineBuilderOption {
	return func(p *pipeline) {
		if n > 0 {
			p.workers = min(n, 1<<16)
		}
	}
}

// WithArenaWords sets the capacity of each arena in 32-bit words. Default is DefaultArenaWords.
//
// Parameters:
//   - words: the arena size, ignored when not positive
//
// Returns:
//   - PipelineBuilderOption: a function that applies the option to a pipeline
func WithArenaWords(words int) PipelineBuilderOption {
	return func(p *pipeline) {
		if words > 0 {
			p.arenaWords = words
		}
	}
}

// WithDeformationWords sets the arena words pre-allocated per visible instance of a deformed batch.
//
// Parameters:
//   - words: words per instance, ignored when negative
//
// Returns:
//   - PipelineBuilderOption: a function that applies the option to a pipeline
func WithDeformationWords(words int) PipelineBuilderOption {
	return func(p *pipeline) {
		if words >= 0 {
			p.deformationWords = words
		}
	}
}

// WithMaxPassesBeforeRewind sets the pass count within one frame after which the pipeline waits on
// every outstanding handle and rewinds the arenas early. Default is DefaultMaxPassesBeforeRewind.
//
// Parameters:
//   - n: the threshold, ignored when not positive
//
// Returns:
//   - PipelineBuilderOption: a function that applies the option to a pipeline
func WithMaxPassesBeforeRewind(n int) PipelineBuilderOption {
	return func(p *pipeline) {
		if n > 0 {
			p.maxPasses = n
		}
	}
}

// WithLogger sets the structured logger for pass failures and dispatch diagnostics.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - PipelineBuilderOption: a function that applies the logger option to a pipeline
func WithLogger(logger *slog.Logger) PipelineBuilderOption {
	return func(p *pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}
