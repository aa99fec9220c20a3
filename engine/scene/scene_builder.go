package scene

import "log/slog"

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithLogger sets the structured logger for group lifecycle messages.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) SceneBuilderOption {
	return func(s *scene) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGroups creates the given groups when the scene is constructed. NewScene panics if any definition
// is rejected.
//
// Parameters:
//   - defs: the group definitions
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithGroups(defs ...Definition) SceneBuilderOption {
	return func(s *scene) {
		s.initial = append(s.initial, defs...)
	}
}
