package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
	"github.com/Carmen-Shannon/oxy-instancing/engine/profiler"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
	"github.com/Carmen-Shannon/oxy-instancing/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/Carmen-Shannon/oxy-instancing/engine/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const typeXform property.TypeIndex = 1

type recordingSubmitter struct {
	mu    sync.Mutex
	views []culling.ViewType
}

func (s *recordingSubmitter) SubmitPass(_ context.Context, params culling.Parameters, _ *culling.PassResult) (renderer.CompletionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, params.View)
	return renderer.CompletedHandle(), nil
}

func (s *recordingSubmitter) SubmitDispatch(context.Context, uint64) (renderer.CompletionHandle, error) {
	return renderer.CompletedHandle(), nil
}

type messageHandler struct {
	mu       *sync.Mutex
	messages *[]string
}

func (h messageHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h messageHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h messageHandler) WithGroup(string) slog.Handler            { return h }

func (h messageHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.messages = append(*h.messages, r.Message)
	return nil
}

func (h messageHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range *h.messages {
		if m == msg {
			n++
		}
	}
	return n
}

func newTestScene(t *testing.T, instances int) scene.Scene {
	t.Helper()
	c := property.NewCatalog()
	_, err := c.Register(typeXform, "objectToWorld", property.MatrixSizeCPU, property.WithKind(property.KindObjectToWorld))
	require.NoError(t, err)
	c.Freeze()

	s := scene.NewScene(c)
	g, err := s.CreateGroup(scene.Definition{
		Layout:      scene.NewLayout(typeXform),
		Identity:    scene.RenderIdentity{Mesh: 1, Flags: scene.FlagShadowCaster},
		Capacity:    instances,
		LocalBounds: common.AABB{Extents: [3]float32{0.5, 0.5, 0.5}},
	})
	require.NoError(t, err)
	for i := range instances {
		_, err := g.AddInstance()
		require.NoError(t, err)
		require.NoError(t, g.SetTransform(i, common.Translation(float32(i)-float32(instances)/2, 0, 0)))
	}
	return s
}

func TestNewEngineRequiresScene(t *testing.T) {
	assert.Panics(t, func() { NewEngine() })
}

func TestFrameWithoutViews(t *testing.T) {
	e := NewEngine(WithScene(newTestScene(t, 1)))
	t.Cleanup(e.Renderer().Release)

	_, err := e.Frame(t.Context())
	assert.ErrorIs(t, err, ErrNoViews)
	assert.Equal(t, culling.StateIdle, e.Pipeline().State())
}

func TestFrameUploadsAndCulls(t *testing.T) {
	e := NewEngine(
		WithScene(newTestScene(t, 4)),
		WithView(0, view.NewCameraView()),
	)
	t.Cleanup(e.Renderer().Release)
	assert.Equal(t, renderer.BackendTypeMemory, e.Renderer().BackendType())

	stats, err := e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Frame)
	assert.Len(t, stats.Update.NewBatches, 1)
	assert.Equal(t, 1, stats.Passes)
	assert.Equal(t, 4, stats.Visible)
	assert.Zero(t, stats.FailedPasses)
	assert.NotZero(t, stats.Dispatch.Bytes)
	assert.Equal(t, stats.Dispatch.Bytes, e.Renderer().BytesWritten())
	assert.Equal(t, culling.StateIdle, e.Pipeline().State())

	// Nothing changed, so the second frame uploads nothing.
	stats, err = e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Frame)
	assert.Zero(t, stats.Dispatch.Writes)
	assert.Equal(t, 4, stats.Visible)
}

func TestFrameCullsViewsInKeyOrder(t *testing.T) {
	camera := view.NewCameraView()
	sub := &recordingSubmitter{}
	e := NewEngine(
		WithScene(newTestScene(t, 2)),
		WithSubmitter(sub),
		WithView(10, camera),
		WithView(-1, view.NewShadowView(camera)),
	)
	t.Cleanup(e.Renderer().Release)
	e.AddView(5, view.NewPickingView(camera))

	stats, err := e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Passes)
	assert.Equal(t, []culling.ViewType{culling.ViewShadow, culling.ViewPicking, culling.ViewCamera}, sub.views)

	e.RemoveView(5)
	assert.Nil(t, e.View(5))
	stats, err = e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Passes)
}

func TestFrameCanceledContext(t *testing.T) {
	e := NewEngine(WithScene(newTestScene(t, 1)), WithView(0, view.NewCameraView()))
	t.Cleanup(e.Renderer().Release)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := e.Frame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProfilingRecordsFrames(t *testing.T) {
	h := messageHandler{mu: &sync.Mutex{}, messages: &[]string{}}
	e := NewEngine(
		WithScene(newTestScene(t, 3)),
		WithView(0, view.NewCameraView()),
		WithLogger(slog.New(h)),
		WithProfiling(true, profiler.WithUpdateInterval(time.Nanosecond)),
	)
	t.Cleanup(e.Renderer().Release)

	_, err := e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, h.count("profile"))

	e.DisableProfiler()
	_, err = e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, h.count("profile"))
}

func TestWithRegistryAndRenderer(t *testing.T) {
	s := newTestScene(t, 2)
	reg := batch.NewRegistry(s.Catalog(), batch.WithWorkers(1))
	r := renderer.NewRenderer(renderer.BackendTypeMemory)
	t.Cleanup(r.Release)

	e := NewEngine(WithScene(s), WithRegistry(reg), WithRenderer(r), WithView(0, view.NewCameraView()))
	assert.Same(t, reg, e.Registry())
	_, err := e.Frame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.BatchCount())
	assert.NotZero(t, r.BytesWritten())
}

func TestRunHeadlessUntilQuit(t *testing.T) {
	e := NewEngine(
		WithScene(newTestScene(t, 2)),
		WithView(0, view.NewCameraView()),
		WithTickRate(1000),
	)

	var mu sync.Mutex
	frames := 0
	e.SetFrameCallback(func(stats FrameStats) {
		mu.Lock()
		defer mu.Unlock()
		frames++
		if frames == 3 {
			e.Quit()
		}
	})

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		e.Quit()
		t.Fatal("engine did not stop after Quit")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, frames, 3)
	e.Quit()
}
