package output

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossdeck/internal/engine"
)

type constRenderer struct {
	rate  int
	value float32
}

func (c constRenderer) Render(dst []float32) int {
	for i := range dst {
		dst[i] = c.value
	}
	return len(dst) / engine.Channels
}

func (c constRenderer) SampleRate() int { return c.rate }

type frameRecorder struct {
	mu     sync.Mutex
	frames [][]int16
}

func (f *frameRecorder) WriteFrame(pcm []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]int16(nil), pcm...))
}

func (f *frameRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestMixerTeesFixedFrames(t *testing.T) {
	sink := &frameRecorder{}
	m := newMixer(constRenderer{rate: 48000, value: 0.5}, sink)
	require.Equal(t, 1920, m.frame, "20 ms of 48 kHz stereo")

	dst := make([]float32, 4000)
	m.render(dst)

	require.Len(t, sink.frames, 2)
	assert.Len(t, sink.frames[0], 1920)
	assert.Equal(t, int16(16384), sink.frames[0][0])
	assert.Len(t, m.pending, 160)
	assert.Equal(t, float32(0.5), dst[0], "the device still gets float samples")
}

func TestToInt16Clips(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), toInt16(1.5))
	assert.Equal(t, int16(math.MinInt16), toInt16(-2))
	assert.Equal(t, int16(0), toInt16(0))
}

func TestPumpAdvancesEngineClock(t *testing.T) {
	ctx := engine.NewContext(engine.WithSampleRate(48000))
	ctx.Resume()

	sink := &frameRecorder{}
	p := NewPump(ctx, sink, 10*time.Millisecond)

	var buf []float32
	n := p.step(4800, &buf)
	assert.Equal(t, int64(4800), n)
	assert.InDelta(t, 0.1, ctx.CurrentTime(), 1.0/48000*engine.Quantum)
	assert.Equal(t, 5, sink.count())

	assert.Equal(t, int64(48000), p.step(10*48000, &buf), "a stall renders at most one second")
	assert.Zero(t, p.step(0, &buf))
}

func TestPumpRunStopsWithContext(t *testing.T) {
	ectx := engine.NewContext(engine.WithSampleRate(8000))
	ectx.Resume()
	p := NewPump(ectx, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return ectx.CurrentTime() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}
