package renderer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryRenderer(t *testing.T, options ...RendererBuilderOption) Renderer {
	t.Helper()
	r := NewRenderer(BackendTypeMemory, options...)
	t.Cleanup(r.Release)
	return r
}

func TestRenderer_EnsureCapacityPreservesContents(t *testing.T) {
	r := newMemoryRenderer(t)
	assert.Equal(t, BackendTypeMemory, r.BackendType())
	assert.Zero(t, r.Capacity(BufferInstanceData))

	require.NoError(t, r.EnsureCapacity(BufferInstanceData, 16))
	_, err := r.WriteBuffers([]BufferWrite{{Buffer: BufferInstanceData, Offset: 4, Data: []byte{1, 2, 3, 4}}})
	require.NoError(t, err)

	require.NoError(t, r.EnsureCapacity(BufferInstanceData, 64))
	assert.Equal(t, uint64(64), r.Capacity(BufferInstanceData))
	require.NoError(t, r.EnsureCapacity(BufferInstanceData, 8), "shrinking is a no-op")
	assert.Equal(t, uint64(64), r.Capacity(BufferInstanceData))

	got, err := r.ReadBuffer(BufferInstanceData, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, got)
}

func TestRenderer_WriteBuffersIsAllOrNothing(t *testing.T) {
	r := newMemoryRenderer(t, WithInitialCapacity(BufferMetadata, 32))
	assert.Equal(t, uint64(32), r.Capacity(BufferMetadata))

	_, err := r.WriteBuffers([]BufferWrite{
		{Buffer: BufferMetadata, Offset: 0, Data: []byte{9, 9, 9, 9}},
		{Buffer: BufferMetadata, Offset: 30, Data: []byte{1, 1, 1, 1}},
	})
	require.ErrorIs(t, err, ErrOutOfBounds)

	got, err := r.ReadBuffer(BufferMetadata, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, got)
	assert.Zero(t, r.BytesWritten())
}

func TestRenderer_BytesWritten(t *testing.T) {
	r := newMemoryRenderer(t, WithInitialCapacity(BufferInstanceData, 128))

	handle, err := r.WriteBuffers([]BufferWrite{
		{Buffer: BufferInstanceData, Offset: 0, Data: make([]byte, 64)},
		{Buffer: BufferInstanceData, Offset: 64, Data: make([]byte, 16)},
		{Buffer: BufferInstanceData, Offset: 96, Data: nil},
	})
	require.NoError(t, err)
	assert.True(t, handle.Done())
	require.NoError(t, handle.Wait(context.Background()))
	assert.Equal(t, uint64(80), r.BytesWritten())
}

func TestRenderer_UnknownBufferAndReadBounds(t *testing.T) {
	r := newMemoryRenderer(t)

	assert.ErrorIs(t, r.EnsureCapacity(BufferKind(7), 16), ErrUnknownBuffer)
	_, err := r.WriteBuffers([]BufferWrite{{Buffer: BufferKind(-1), Data: []byte{1}}})
	assert.ErrorIs(t, err, ErrUnknownBuffer)
	_, err = r.ReadBuffer(BufferInstanceData, 0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRenderer_ReleaseRejectsLaterCalls(t *testing.T) {
	r := NewRenderer(BackendTypeMemory, WithInitialCapacity(BufferInstanceData, 16))
	r.Release()
	r.Release()

	assert.ErrorIs(t, r.EnsureCapacity(BufferInstanceData, 32), ErrReleased)
	_, err := r.WriteBuffers(nil)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, r.BeginFrame(), ErrReleased)
	assert.Zero(t, r.Capacity(BufferInstanceData))
}

func TestRenderer_HeadlessFrameIsNoOp(t *testing.T) {
	r := newMemoryRenderer(t)
	require.NoError(t, r.BeginFrame())
	r.EndFrame()
	r.Present()
	r.Resize(640, 480)
}

func TestSignalHandle(t *testing.T) {
	h := NewSignalHandle()
	assert.False(t, h.Done())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	failure := errors.New("device lost")
	go h.Signal(failure)
	assert.ErrorIs(t, h.Wait(context.Background()), failure)
	assert.True(t, h.Done())

	h.Signal(nil)
	assert.ErrorIs(t, h.Wait(context.Background()), failure, "only the first signal counts")
}

func TestCompletedHandles(t *testing.T) {
	assert.True(t, CompletedHandle().Done())
	assert.NoError(t, CompletedHandle().Wait(context.Background()))

	failure := errors.New("submit failed")
	assert.ErrorIs(t, FailedHandle(failure).Wait(context.Background()), failure)
}
