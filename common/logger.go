package common

import (
	"context"
	"log/slog"
)

// nopHandler discards every record. Enabled returns false so callers skip attribute construction.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

// NopLogger returns a logger that drops all output. Every engine component defaults to it until a
// logger is supplied through its WithLogger option.
//
// Returns:
//   - *slog.Logger: a discarding logger
func NopLogger() *slog.Logger {
	return slog.New(nopHandler{})
}
