package engine

import (
	"fmt"
	"math"
)

// FilterType selects the biquad response.
type FilterType string

const (
	AllPass  FilterType = "allpass"
	LowPass  FilterType = "lowpass"
	HighPass FilterType = "highpass"
	BandPass FilterType = "bandpass"
)

// ParseFilterType validates a filter type name.
func ParseFilterType(s string) (FilterType, error) {
	switch t := FilterType(s); t {
	case AllPass, LowPass, HighPass, BandPass:
		return t, nil
	}
	return "", fmt.Errorf("filter type %q: %w", s, ErrRange)
}

// Filter is a second order IIR section using the RBJ cookbook coefficients.
// Coefficients are recomputed once per quantum from the frequency and Q
// parameters. An all-pass at 0 Hz is an exact bypass.
type Filter struct {
	node
	typ       FilterType
	frequency *Param
	q         *Param

	x1, x2, y1, y2 [Channels]float64
}

// NewFilter creates a neutral filter: all-pass, 0 Hz, Q 1.
func (c *Context) NewFilter() *Filter {
	f := &Filter{typ: AllPass}
	f.frequency = newParam(c, 0)
	f.q = newParam(c, 1)
	f.init(c, f)
	return f
}

// Frequency returns the cutoff/centre frequency parameter in Hz.
func (f *Filter) Frequency() *Param { return f.frequency }

// Q returns the quality factor parameter.
func (f *Filter) Q() *Param { return f.q }

// Type returns the current response type.
func (f *Filter) Type() FilterType {
	f.ctx.mu.Lock()
	defer f.ctx.mu.Unlock()
	return f.typ
}

// SetType switches the response. Filter memory is kept.
func (f *Filter) SetType(t FilterType) {
	f.ctx.mu.Lock()
	f.typ = t
	f.ctx.mu.Unlock()
}

func (f *Filter) process(in, out *[Channels][]float32) {
	freq := f.frequency.current()
	q := f.q.current()

	if f.typ == AllPass && freq <= 0 {
		for ch := 0; ch < Channels; ch++ {
			copy(out[ch], in[ch])
			f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch] = 0, 0, 0, 0
		}
		return
	}

	b0, b1, b2, a1, a2 := coefficients(f.typ, freq, q, float64(f.ctx.sampleRate))
	for ch := 0; ch < Channels; ch++ {
		x1, x2, y1, y2 := f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch]
		for i, s := range in[ch] {
			x := float64(s)
			y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
			x2, x1 = x1, x
			y2, y1 = y1, y
			out[ch][i] = float32(y)
		}
		f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch] = x1, x2, y1, y2
	}
}

func coefficients(t FilterType, freq, q, rate float64) (b0, b1, b2, a1, a2 float64) {
	nyquist := rate / 2
	freq = math.Max(1e-3, math.Min(freq, nyquist*0.999))
	if q <= 0 {
		q = 1e-4
	}
	w0 := 2 * math.Pi * freq / rate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	var a0 float64
	switch t {
	case LowPass:
		b0, b1, b2 = (1-cosw)/2, 1-cosw, (1-cosw)/2
	case HighPass:
		b0, b1, b2 = (1+cosw)/2, -(1 + cosw), (1+cosw)/2
	case BandPass:
		b0, b1, b2 = alpha, 0, -alpha
	default:
		b0, b1, b2 = 1-alpha, -2*cosw, 1+alpha
	}
	a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	return b0 / a0, b1 / a0, b2 / a0, a1 / a0, a2 / a0
}
