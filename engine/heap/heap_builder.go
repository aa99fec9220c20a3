package heap

import "log/slog"

// AllocatorBuilderOption is a functional option for configuring an Allocator.
// Use the With* functions to create options.
type AllocatorBuilderOption func(a *allocator)

// WithLogger sets the structured logger used for misuse assertions in release builds.
// Defaults to a discarding logger.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - AllocatorBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) AllocatorBuilderOption {
	return func(a *allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithName labels the allocator in log output (for example "instance-data" or "metadata").
//
// Parameters:
//   - name: the allocator label
//
// Returns:
//   - AllocatorBuilderOption: option function to apply
func WithName(name string) AllocatorBuilderOption {
	return func(a *allocator) {
		a.name = name
	}
}
