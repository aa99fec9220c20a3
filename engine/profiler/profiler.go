package profiler

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-instancing/common"
)

// FrameSample is what one frame reports to the profiler.
type FrameSample struct {
	LiveBatches   int
	UploadedBytes uint64
	Passes        int
	Visible       int
	FailedPasses  int
	GPUHeapUsed   uint64
	GPUHeapSize   uint64
	MetadataUsed  uint64
}

// Stats is one reporting interval's summary.
type Stats struct {
	Frames        int
	FPS           float64
	LiveBatches   int     // at the end of the interval
	UploadRate    float64 // bytes per second
	PassesPerSec  float64
	AvgVisible    float64 // visible instances per frame
	FailedPasses  int
	GPUHeapUsed   uint64
	GPUHeapSize   uint64
	MetadataUsed  uint64
	HeapAllocMB   float64
	AllocRateMB   float64
	GCCount       uint32
	LastGCPauseUs uint64
	MaxGCPauseUs  uint64
}

// Profiler tracks frame rate, batching and memory statistics for performance monitoring.
// Outputs stats to the logger at a configurable interval. A Profiler is used by one goroutine.
type Profiler struct {
	logger         *slog.Logger
	now            func() time.Time
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	uploaded uint64
	passes   int
	visible  int
	failed   int
	last     FrameSample
	stats    Stats
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options to further configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		logger:         common.NopLogger(),
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, option := range options {
		option(p)
	}
	p.lastTime = p.now()
	return p
}

// Record adds one frame's sample to the current interval.
//
// Parameters:
//   - s: the frame sample
func (p *Profiler) Record(s FrameSample) {
	p.uploaded += s.UploadedBytes
	p.passes += s.Passes
	p.visible += s.Visible
	p.failed += s.FailedPasses
	p.last = s
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, live batches, upload rate, passes, heap usage, allocation rate, GC count/pause times.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	seconds := elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	// Alloc: Bytes of allocated heap objects (live memory)
	// TotalAlloc: Cumulative bytes allocated for heap objects (increases forever, tracks churn)
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of last 256 GC pauses
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.stats = Stats{
		Frames:        p.frameCount,
		FPS:           float64(p.frameCount) / seconds,
		LiveBatches:   p.last.LiveBatches,
		UploadRate:    float64(p.uploaded) / seconds,
		PassesPerSec:  float64(p.passes) / seconds,
		AvgVisible:    float64(p.visible) / float64(p.frameCount),
		FailedPasses:  p.failed,
		GPUHeapUsed:   p.last.GPUHeapUsed,
		GPUHeapSize:   p.last.GPUHeapSize,
		MetadataUsed:  p.last.MetadataUsed,
		HeapAllocMB:   float64(p.memStats.Alloc) / 1024 / 1024,
		AllocRateMB:   float64(allocDelta) / 1024 / 1024 / seconds,
		GCCount:       gcCount,
		LastGCPauseUs: lastPauseUs,
		MaxGCPauseUs:  maxPauseUs,
	}

	p.logger.Info("profile",
		"fps", p.stats.FPS,
		"batches", p.stats.LiveBatches,
		"upload_bytes_per_sec", p.stats.UploadRate,
		"passes_per_sec", p.stats.PassesPerSec,
		"avg_visible", p.stats.AvgVisible,
		"failed_passes", p.stats.FailedPasses,
		"gpu_heap_used", p.stats.GPUHeapUsed,
		"gpu_heap_size", p.stats.GPUHeapSize,
		"metadata_used", p.stats.MetadataUsed,
		"heap_mb", p.stats.HeapAllocMB,
		"alloc_rate_mb", p.stats.AllocRateMB,
		"gc", gcCount,
		"gc_last_us", lastPauseUs,
		"gc_max_us", maxPauseUs,
	)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.uploaded, p.passes, p.visible, p.failed = 0, 0, 0, 0
	return true
}

// Stats returns the summary of the last completed interval.
func (p *Profiler) Stats() Stats {
	return p.stats
}
