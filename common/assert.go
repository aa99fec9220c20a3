//go:build !oxydebug

package common

import (
	"fmt"
	"log/slog"
)

// DebugAssertions reports whether misuse assertions panic. Build with -tags oxydebug to enable them.
const DebugAssertions = false

// Assert reports a programming error. In release builds the violation is logged at warn level and the
// caller is expected to no-op; with the oxydebug build tag it panics instead.
//
// Parameters:
//   - logger: destination for the release-mode warning (nil discards it)
//   - ok: the condition that must hold
//   - format: printf-style description of the violation
//   - args: format arguments
//
// Returns:
//   - bool: ok, so callers can write `if !common.Assert(...) { return }`
func Assert(logger *slog.Logger, ok bool, format string, args ...any) bool {
	if ok {
		return true
	}
	if logger != nil {
		logger.Warn("assertion failed", "detail", fmt.Sprintf(format, args...))
	}
	return false
}
