package profiler

import (
	"log/slog"
	"time"
)

// ProfilerBuilderOption is a functional option applied to a Profiler during construction via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithUpdateInterval sets how often statistics are logged. Default is one second.
//
// Parameters:
//   - d: the reporting interval, ignored when not positive
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithUpdateInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithLogger sets the structured logger the statistics are written to.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}
