package output

import (
	"context"
	"time"

	"crossdeck/internal/engine"
)

// Pump renders the engine in real time without an audio device
type Pump struct {
	mix    *mixer
	rate   int
	period time.Duration
	now    func() time.Time
}

// NewPump creates a pump rendering every period
func NewPump(r Renderer, sink FrameSink, period time.Duration) *Pump {
	if period <= 0 {
		period = FrameDuration
	}
	return &Pump{
		mix:    newMixer(r, sink),
		rate:   r.SampleRate(),
		period: period,
		now:    time.Now,
	}
}

// Run renders until ctx is done. Frames are rendered against elapsed wall
// time so ticker jitter does not drift the engine clock.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	start := p.now()
	var rendered int64
	var buf []float32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			due := int64(p.now().Sub(start).Seconds() * float64(p.rate))
			rendered += p.step(due-rendered, &buf)
		}
	}
}

// step renders up to frames frames, at most one second at a time
func (p *Pump) step(frames int64, buf *[]float32) int64 {
	if frames <= 0 {
		return 0
	}
	if limit := int64(p.rate); frames > limit {
		frames = limit
	}
	n := int(frames) * engine.Channels
	if cap(*buf) < n {
		*buf = make([]float32, n)
	}
	p.mix.render((*buf)[:n])
	return frames
}
