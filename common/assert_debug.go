//go:build oxydebug

package common

import (
	"fmt"
	"log/slog"
)

const DebugAssertions = true

func Assert(_ *slog.Logger, ok bool, format string, args ...any) bool {
	if !ok {
		panic(fmt.Sprintf(format, args...))
	}
	return true
}
