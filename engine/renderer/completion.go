package renderer

import (
	"context"
	"sync"
)

// CompletionHandle reports when GPU-visible work has finished consuming its inputs.
type CompletionHandle interface {
	// Wait blocks until the work completes or ctx is done.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: the work's failure, or ctx.Err()
	Wait(ctx context.Context) error

	// Done reports whether the work has completed, without blocking.
	Done() bool
}

type completedHandle struct {
	err error
}

func (h completedHandle) Wait(context.Context) error { return h.err }
func (h completedHandle) Done() bool                 { return true }

// CompletedHandle returns a handle that is already complete.
func CompletedHandle() CompletionHandle {
	return completedHandle{}
}

// FailedHandle returns a complete handle whose Wait reports err.
func FailedHandle(err error) CompletionHandle {
	return completedHandle{err: err}
}

// SignalHandle is a CompletionHandle completed explicitly by its producer.
type SignalHandle struct {
	once *sync.Once
	done chan struct{}
	err  error
}

var (
	_ CompletionHandle = completedHandle{}
	_ CompletionHandle = &SignalHandle{}
)

// NewSignalHandle creates an incomplete handle.
func NewSignalHandle() *SignalHandle {
	return &SignalHandle{once: &sync.Once{}, done: make(chan struct{})}
}

// Signal completes the handle. Only the first call has an effect.
//
// Parameters:
//   - err: the failure reported by Wait, nil on success
func (h *SignalHandle) Signal(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *SignalHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SignalHandle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
