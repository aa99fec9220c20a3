package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler_TickReportsInterval(t *testing.T) {
	clock := time.Unix(0, 0)
	p := NewProfiler(WithUpdateInterval(time.Second))
	p.now = func() time.Time { return clock }
	p.lastTime = clock

	for i := range 4 {
		p.Record(FrameSample{
			LiveBatches:   10 + i,
			UploadedBytes: 1000,
			Passes:        2,
			Visible:       50,
			GPUHeapUsed:   4096,
			GPUHeapSize:   1 << 20,
		})
		clock = clock.Add(250 * time.Millisecond)
		reported := p.Tick()
		require.Equal(t, i == 3, reported, "tick %d", i)
	}

	s := p.Stats()
	assert.Equal(t, 4, s.Frames)
	assert.InDelta(t, 4.0, s.FPS, 1e-9)
	assert.Equal(t, 13, s.LiveBatches)
	assert.InDelta(t, 4000.0, s.UploadRate, 1e-9)
	assert.InDelta(t, 8.0, s.PassesPerSec, 1e-9)
	assert.InDelta(t, 50.0, s.AvgVisible, 1e-9)
	assert.Equal(t, uint64(4096), s.GPUHeapUsed)

	clock = clock.Add(100 * time.Millisecond)
	assert.False(t, p.Tick(), "counters restart after a report")
}
