package batch

import (
	"log/slog"
	"time"
)

const (
	// DefaultMaxBytesPerBatch is the per-batch byte budget used to derive a layout's instance limit.
	DefaultMaxBytesPerBatch = 16 * 1024
	// DefaultGPUHeapSize is the size of the instance-data heap.
	DefaultGPUHeapSize = 64 << 20
	// DefaultMetadataCapacity is the number of metadata records the metadata heap holds.
	DefaultMetadataCapacity = 1 << 16
	// DefaultGrowthFactor is the growth factor of the batch index arrays.
	DefaultGrowthFactor = 2.0
	// DefaultDiagnosticInterval is the minimum interval between two allocation-failure errors.
	DefaultDiagnosticInterval = time.Second
)

// RegistryBuilderOption is a functional option for configuring a Registry.
// Use the With* functions to create options.
type RegistryBuilderOption func(r *registry)

// WithMaxBytesPerBatch sets the byte budget of one batch. A layout's instance limit is
// budget / bytesPerInstance, rounded down. Default is DefaultMaxBytesPerBatch (16384).
//
// Parameters:
//   - n: the byte budget
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithMaxBytesPerBatch(n uint64) RegistryBuilderOption {
	return func(r *registry) {
		if n > 0 {
			r.maxBytesPerBatch = n
		}
	}
}

// WithMaxInstancesPerBatch caps the instance limit of every batch in addition to the byte budget.
// Zero (the default) means only the byte budget applies.
//
// Parameters:
//   - n: the instance cap
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithMaxInstancesPerBatch(n int) RegistryBuilderOption {
	return func(r *registry) {
		r.maxInstancesPerBatch = max(n, 0)
	}
}

// WithGPUHeapSize sets the size in bytes of the instance-data heap. Default is DefaultGPUHeapSize.
//
// Parameters:
//   - size: heap size in bytes
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithGPUHeapSize(size uint64) RegistryBuilderOption {
	return func(r *registry) {
		r.gpuHeapSize = size
	}
}

// WithMetadataCapacity sets the number of metadata records. Default is DefaultMetadataCapacity.
//
// Parameters:
//   - records: number of ChunkProperty records
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithMetadataCapacity(records uint64) RegistryBuilderOption {
	return func(r *registry) {
		r.metadataCapacity = records
	}
}

// WithGrowthFactor sets how much the batch index arrays grow when a new id exceeds their capacity.
// Values below 1.0 are clamped to 1.0. Default is DefaultGrowthFactor (2.0).
//
// Parameters:
//   - factor: the growth factor
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithGrowthFactor(factor float64) RegistryBuilderOption {
	return func(r *registry) {
		r.growthFactor = max(factor, 1.0)
	}
}

// WithWorkers sets the number of worker goroutines used for per-group classification and change
// tracking during Update. Defaults to runtime.NumCPU()-1.
//
// Parameters:
//   - n: the number of workers (minimum 1)
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithWorkers(n int) RegistryBuilderOption {
	return func(r *registry) {
		r.workers = max(n, 1)
	}
}

// WithDiagnosticInterval sets the minimum interval between two allocation-failure errors; failures in
// between are logged at debug level. Default is DefaultDiagnosticInterval (1s).
//
// Parameters:
//   - d: the interval
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithDiagnosticInterval(d time.Duration) RegistryBuilderOption {
	return func(r *registry) {
		r.diagnosticInterval = d
	}
}

// WithLogger sets the structured logger for allocation and layout diagnostics.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) RegistryBuilderOption {
	return func(r *registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}
