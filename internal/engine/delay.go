package engine

import "math"

// Delay is a ring-buffer delay line. It may be part of a feedback cycle; the
// effective delay is never shorter than one render quantum.
type Delay struct {
	node
	delayTime *Param
	ring      [Channels][]float32
	w         int
}

// NewDelay creates a delay line able to hold maxDelay seconds.
func (c *Context) NewDelay(maxDelay float64) *Delay {
	size := int(math.Ceil(maxDelay*float64(c.sampleRate))) + 2*Quantum
	d := &Delay{}
	for ch := 0; ch < Channels; ch++ {
		d.ring[ch] = make([]float32, size)
	}
	d.delayTime = newParam(c, 0)
	d.init(c, d)
	return d
}

// DelayTime returns the delay parameter in seconds.
func (d *Delay) DelayTime() *Param { return d.delayTime }

func (d *Delay) process(in, out *[Channels][]float32) {
	d.read(out)
	d.write(in)
}

func (d *Delay) read(out *[Channels][]float32) {
	size := len(d.ring[0])
	lag := int(math.Round(d.delayTime.current() * float64(d.ctx.sampleRate)))
	lag = max(Quantum, min(lag, size-Quantum))
	for ch := 0; ch < Channels; ch++ {
		for i := 0; i < Quantum; i++ {
			out[ch][i] = d.ring[ch][(d.w+i-lag+size)%size]
		}
	}
}

func (d *Delay) write(in *[Channels][]float32) {
	size := len(d.ring[0])
	for ch := 0; ch < Channels; ch++ {
		for i := 0; i < Quantum; i++ {
			d.ring[ch][(d.w+i)%size] = in[ch][i]
		}
	}
	d.w = (d.w + Quantum) % size
}
