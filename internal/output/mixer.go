// Package output drives the engine clock: either an audio device pulls the
// master mix, or a ticker-driven pump renders it into the void. Both tee the
// mix into fixed-size PCM frames for live streaming.
package output

import (
	"math"
	"sync"
	"time"

	"crossdeck/internal/engine"
)

// FrameDuration is the length of one teed PCM frame
const FrameDuration = 20 * time.Millisecond

// FrameSink receives interleaved stereo int16 frames of FrameDuration.
// WriteFrame must not retain pcm or block.
type FrameSink interface {
	WriteFrame(pcm []int16)
}

// Renderer is the part of the engine an output drives
type Renderer interface {
	Render(dst []float32) int
	SampleRate() int
}

// mixer renders the engine and tees the result into frames
type mixer struct {
	engine Renderer
	sink   FrameSink

	mutex   sync.Mutex
	pending []int16
	frame   int // samples per teed frame, all channels
}

func newMixer(r Renderer, sink FrameSink) *mixer {
	return &mixer{
		engine: r,
		sink:   sink,
		frame:  r.SampleRate() * engine.Channels * int(FrameDuration/time.Millisecond) / 1000,
	}
}

// render fills dst with interleaved float32 stereo and feeds the sink
func (m *mixer) render(dst []float32) {
	m.engine.Render(dst)
	if m.sink == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, s := range dst {
		m.pending = append(m.pending, toInt16(s))
	}
	for len(m.pending) >= m.frame {
		m.sink.WriteFrame(m.pending[:m.frame])
		m.pending = m.pending[m.frame:]
	}
	// keep the backing array from growing without bound
	if cap(m.pending) > 8*m.frame {
		m.pending = append(make([]int16, 0, 2*m.frame), m.pending...)
	}
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * math.MaxInt16)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
