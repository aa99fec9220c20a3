// package culling runs the per-frame visibility passes over the batch set and the frame-level dispatch
// that uploads changed instance data. Each pass culls every batch in parallel, records the visible
// instances and draw commands in word arenas, and hands the result to the draw-submission collaborator.
// Arenas are rewound only at frame start, after every completion handle of the previous frame is done.
package culling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
	"github.com/Carmen-Shannon/oxy-instancing/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancing/engine/scene"
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrFrameNotBegun is returned by Cull and EndFrame outside BeginFrame/EndFrame.
	ErrFrameNotBegun = errors.New("culling: frame not begun")
	// ErrFrameInProgress is returned by BeginFrame while a frame is still open.
	ErrFrameInProgress = errors.New("culling: frame already in progress")
)

// State is the pass state machine position.
type State int32

const (
	// StateIdle waits for the next cull request.
	StateIdle State = iota
	// StatePassRunning executes the culling stages of one pass.
	StatePassRunning
	// StatePassFinalizing collects the pass's completion handle.
	StatePassFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePassRunning:
		return "pass-running"
	case StatePassFinalizing:
		return "pass-finalizing"
	default:
		return "unknown"
	}
}

// ViewType classifies a pass.
type ViewType int

const (
	ViewCamera ViewType = iota
	ViewShadow
	ViewPicking
)

func (v ViewType) String() string {
	switch v {
	case ViewCamera:
		return "camera"
	case ViewShadow:
		return "shadow"
	case ViewPicking:
		return "picking"
	default:
		return "unknown"
	}
}

// Parameters is the snapshot of one pass's shared culling state.
type Parameters struct {
	View           ViewType
	ViewProjection [16]float32
	Frustum        common.Frustum
	LODOrigin      [3]float32
	LODScale       float32
	// Filter restricts the pass to these group ids. Nil includes every group; an empty bitmap
	// includes none and takes the fast path.
	Filter *roaring.Bitmap
}

// NewParameters builds pass parameters and extracts the frustum from viewProj.
//
// Parameters:
//   - view: the pass classification
//   - viewProj: the column-major view-projection matrix
//   - lodOrigin: the world position LOD distances are measured from
//   - lodScale: the factor applied to distances before LOD selection (1 when non-positive)
//
// Returns:
//   - Parameters: the pass parameters without a filter
func NewParameters(view ViewType, viewProj [16]float32, lodOrigin [3]float32, lodScale float32) Parameters {
	if lodScale <= 0 {
		lodScale = 1
	}
	return Parameters{
		View:           view,
		ViewProjection: viewProj,
		Frustum:        common.ExtractFrustumFromMatrix(viewProj[:]),
		LODOrigin:      lodOrigin,
		LODScale:       lodScale,
	}
}

// PassResult is what one pass produced.
type PassResult struct {
	Pass         int
	Frame        uint64
	View         ViewType
	DrawCommands []DrawCommand
	Visible      map[batch.ID]*roaring.Bitmap // batch-relative instance indices
	VisibleCount int
	Err          error // set when the pass failed; DrawCommands and Visible are then empty
}

// Submitter is the draw-submission collaborator.
type Submitter interface {
	// SubmitPass hands one pass's result to the draw-submission side.
	//
	// Parameters:
	//   - ctx: the frame context
	//   - params: the pass parameters
	//   - result: the pass result; its arena refs stay valid until the handle completes
	//
	// Returns:
	//   - renderer.CompletionHandle: completes when the pass output may be reused, nil if already done
	//   - error: a submission failure, recorded on the result
	SubmitPass(ctx context.Context, params Parameters, result *PassResult) (renderer.CompletionHandle, error)

	// SubmitDispatch is called once per frame after the frame's uploads were written.
	//
	// Parameters:
	//   - ctx: the frame context
	//   - frame: the frame number
	//
	// Returns:
	//   - renderer.CompletionHandle: completes when the dispatch work is done, nil if already done
	//   - error: a submission failure
	SubmitDispatch(ctx context.Context, frame uint64) (renderer.CompletionHandle, error)
}

// Pipeline drives the culling passes and the frame dispatch. Its methods must be called from the
// coordinating goroutine, never concurrently with Registry.Update.
type Pipeline interface {
	// BeginFrame waits for every completion handle of the previous frame, rewinds all arenas and
	// resets the pass counter.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ErrFrameInProgress, or ctx.Err() if the wait was interrupted
	BeginFrame(ctx context.Context) error

	// Cull runs one pass. A pass failure is reported through PassResult.Err and never stops the frame.
	//
	// Parameters:
	//   - ctx: the frame context
	//   - params: the pass parameters
	//
	// Returns:
	//   - *PassResult: the pass output
	//   - error: ErrFrameNotBegun or ctx.Err()
	Cull(ctx context.Context, params Parameters) (*PassResult, error)

	// EndFrame runs the frame dispatch if no pass has triggered it and closes the frame.
	//
	// Parameters:
	//   - ctx: the frame context
	//
	// Returns:
	//   - DispatchReport: what the frame dispatch uploaded; Err is set when the upload failed
	//   - error: ErrFrameNotBegun
	EndFrame(ctx context.Context) (DispatchReport, error)

	// State returns the current pass state.
	State() State

	// PassCount returns the number of passes run in the current frame.
	PassCount() int

	// Frame returns the number of frames begun so far.
	Frame() uint64

	// Outstanding returns the number of completion handles collected and not yet waited on.
	Outstanding() int

	// Arena returns the arena a Ref was issued by, nil for an unknown arena.
	Arena(id uint16) *Arena
}

type pipeline struct {
	mu *sync.Mutex

	logger    *slog.Logger
	scene     scene.Scene
	registry  batch.Registry
	renderer  renderer.Renderer
	submitter Submitter

	workers          int
	arenaWords       int
	deformationWords int
	maxPasses        int

	arenas    []*Arena
	free      []uint16
	freeMu    *sync.Mutex
	arenaSlot *semaphore.Weighted

	state       *atomic.Int32
	frame       uint64
	frameOpen   bool
	passCount   int
	sinceRewind int
	dispatched  bool
	report      DispatchReport
	outstanding []renderer.CompletionHandle

	initialized map[batch.ID]uint64 // batch id -> GPU block begin already zeroed
	defaultsUp  bool
}

// Ensure pipeline implements Pipeline interface.
var _ Pipeline = &pipeline{}

// NewPipeline creates a Pipeline over a scene, its registry and the renderer hosting the buffers.
// It panics if any of them is nil. A nil submitter is replaced by one that accepts everything.
//
// Parameters:
//   - s: the scene the registry tracks
//   - registry: the batch registry
//   - r: the renderer hosting the instance-data and metadata buffers
//   - submitter: the draw-submission collaborator
//   - options: functional options to further configure the pipeline
//
// Returns:
//   - Pipeline: the newly created pipeline
func NewPipeline(s scene.Scene, registry batch.Registry, r renderer.Renderer, submitter Submitter, options ...PipelineBuilderOption) Pipeline {
	if s == nil || registry == nil || r == nil {
		panic("culling: NewPipeline requires a scene, a registry and a renderer")
	}
	if submitter == nil {
		submitter = nopSubmitter{}
	}
	p := &pipeline{
		mu:               &sync.Mutex{},
		logger:           common.NopLogger(),
		scene:            s,
		registry:         registry,
		renderer:         r,
		submitter:        submitter,
		workers:          defaultWorkers(),
		arenaWords:       DefaultArenaWords,
		deformationWords: DefaultDeformationWords,
		maxPasses:        DefaultMaxPassesBeforeRewind,
		freeMu:           &sync.Mutex{},
		state:            &atomic.Int32{},
		initialized:      make(map[batch.ID]uint64),
	}
	for _, option := range options {
		option(p)
	}

	p.arenas = make([]*Arena, p.workers)
	p.free = make([]uint16, 0, p.workers)
	for i := range p.arenas {
		p.arenas[i] = NewArena(uint16(i), p.arenaWords)
		p.free = append(p.free, uint16(p.workers-1-i))
	}
	p.arenaSlot = semaphore.NewWeighted(int64(p.workers))
	return p
}

func (p *pipeline) BeginFrame(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frameOpen {
		return ErrFrameInProgress
	}
	if err := p.waitOutstanding(ctx); err != nil {
		return err
	}
	p.rewindArenas()
	p.frame++
	p.frameOpen = true
	p.passCount = 0
	p.sinceRewind = 0
	p.dispatched = false
	p.report = DispatchReport{Frame: p.frame}
	return nil
}

func (p *pipeline) Cull(ctx context.Context, params Parameters) (*PassResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.frameOpen {
		return nil, ErrFrameNotBegun
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.passCount++
	p.sinceRewind++
	if p.sinceRewind > p.maxPasses {
		p.logger.Warn("pass threshold exceeded, rewinding arenas early",
			"frame", p.frame, "passes", p.passCount, "threshold", p.maxPasses)
		if err := p.waitOutstanding(ctx); err != nil {
			return nil, err
		}
		p.rewindArenas()
		p.sinceRewind = 1
	}

	p.state.Store(int32(StatePassRunning))
	if params.Filter != nil {
		params.Filter = params.Filter.Clone()
	}
	result := &PassResult{
		Pass:    p.passCount - 1,
		Frame:   p.frame,
		View:    params.View,
		Visible: make(map[batch.ID]*roaring.Bitmap),
	}

	if params.Filter == nil || !params.Filter.IsEmpty() {
		if err := p.runStages(ctx, params, result); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.state.Store(int32(StateIdle))
				return nil, ctxErr
			}
			p.logger.Error("culling pass failed", "frame", p.frame, "pass", result.Pass, "view", params.View.String(), "error", err)
			result.Err = err
			result.DrawCommands = nil
			result.Visible = make(map[batch.ID]*roaring.Bitmap)
			result.VisibleCount = 0
		}
	}

	p.state.Store(int32(StatePassFinalizing))
	if !p.dispatched {
		p.runDispatch(ctx)
	}
	handle, err := p.submitter.SubmitPass(ctx, params, result)
	if err != nil {
		p.logger.Error("pass submission failed", "frame", p.frame, "pass", result.Pass, "error", err)
		if result.Err == nil {
			result.Err = fmt.Errorf("submit pass %d: %w", result.Pass, err)
		}
	}
	p.collect(handle)
	p.state.Store(int32(StateIdle))

	p.logger.Debug("pass complete", "frame", p.frame, "pass", result.Pass, "view", params.View.String(),
		"visible", result.VisibleCount, "draws", len(result.DrawCommands))
	return result, nil
}

func (p *pipeline) EndFrame(ctx context.Context) (DispatchReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.frameOpen {
		return DispatchReport{}, ErrFrameNotBegun
	}
	if !p.dispatched {
		p.runDispatch(ctx)
	}
	p.frameOpen = false
	return p.report, nil
}

func (p *pipeline) State() State {
	return State(p.state.Load())
}

func (p *pipeline) PassCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passCount
}

func (p *pipeline) Frame() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

func (p *pipeline) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

func (p *pipeline) Arena(id uint16) *Arena {
	if int(id) >= len(p.arenas) {
		return nil
	}
	return p.arenas[id]
}

// waitOutstanding waits on every collected handle. Handle failures are logged; only an interrupted
// wait is returned, and then the remaining handles stay collected.
func (p *pipeline) waitOutstanding(ctx context.Context) error {
	for i, h := range p.outstanding {
		if err := h.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.outstanding = p.outstanding[i:]
				return ctxErr
			}
			p.logger.Warn("completion handle failed", "frame", p.frame, "error", err)
		}
	}
	p.outstanding = p.outstanding[:0]
	return nil
}

// collect keeps a handle until the next rewind. Completed handles need no wait.
func (p *pipeline) collect(h renderer.CompletionHandle) {
	if h != nil && !h.Done() {
		p.outstanding = append(p.outstanding, h)
	}
}

func (p *pipeline) rewindArenas() {
	for _, a := range p.arenas {
		a.Rewind()
	}
}

// acquireArena hands out an arena for the exclusive use of one task.
func (p *pipeline) acquireArena(ctx context.Context) (*Arena, error) {
	if err := p.arenaSlot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.freeMu.Lock()
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.freeMu.Unlock()
	return p.arenas[id], nil
}

func (p *pipeline) releaseArena(a *Arena) {
	p.freeMu.Lock()
	p.free = append(p.free, a.id)
	p.freeMu.Unlock()
	p.arenaSlot.Release(1)
}

type nopSubmitter struct{}

func (nopSubmitter) SubmitPass(context.Context, Parameters, *PassResult) (renderer.CompletionHandle, error) {
	return nil, nil
}

func (nopSubmitter) SubmitDispatch(context.Context, uint64) (renderer.CompletionHandle, error) {
	return nil, nil
}
