package property

import "log/slog"

// CatalogBuilderOption is a functional option for configuring a Catalog.
// Use the With* functions to create options.
type CatalogBuilderOption func(c *catalog)

// WithTransformPacker selects the GPU transform representation. Defaults to Float3x4Packer.
//
// Parameters:
//   - packer: the transform packer
//
// Returns:
//   - CatalogBuilderOption: option function to apply
func WithTransformPacker(packer TransformPacker) CatalogBuilderOption {
	return func(c *catalog) {
		if packer != nil {
			c.packer = packer
		}
	}
}

// WithLogger sets the structured logger used for registration diagnostics.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - CatalogBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) CatalogBuilderOption {
	return func(c *catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}
