package engine

// Gain scales its input by an automatable factor.
type Gain struct {
	node
	gain *Param
	buf  []float64
}

// NewGain creates a unity gain node.
func (c *Context) NewGain() *Gain {
	g := &Gain{buf: make([]float64, Quantum)}
	g.gain = newParam(c, 1)
	g.init(c, g)
	return g
}

// Gain returns the gain factor parameter.
func (g *Gain) Gain() *Param { return g.gain }

func (g *Gain) process(in, out *[Channels][]float32) {
	if g.gain.fill(g.buf) {
		k := float32(g.buf[0])
		for ch := 0; ch < Channels; ch++ {
			for i, v := range in[ch] {
				out[ch][i] = v * k
			}
		}
		return
	}
	for ch := 0; ch < Channels; ch++ {
		for i, v := range in[ch] {
			out[ch][i] = v * float32(g.buf[i])
		}
	}
}
