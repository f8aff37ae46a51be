package engine

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	analyserMinDecibels = -100.0
	analyserMaxDecibels = -30.0
	analyserSmoothing   = 0.8
)

// Analyser passes audio through unchanged and keeps the most recent FFTSize
// mono samples for spectrum snapshots.
type Analyser struct {
	node
	size     int
	ring     []float64
	pos      int
	window   []float64
	smoothed []float64
	fft      *fourier.FFT
	frame    []float64
}

// NewAnalyser creates an analyser with the given FFT size, rounded up to a
// power of two (minimum 32).
func (c *Context) NewAnalyser(fftSize int) *Analyser {
	size := 32
	for size < fftSize {
		size <<= 1
	}
	a := &Analyser{
		size:     size,
		ring:     make([]float64, size),
		window:   blackman(size),
		smoothed: make([]float64, size/2),
		fft:      fourier.NewFFT(size),
		frame:    make([]float64, size),
	}
	a.init(c, a)
	return a
}

// BinCount is the number of frequency bins, half the FFT size.
func (a *Analyser) BinCount() int { return a.size / 2 }

func (a *Analyser) process(in, out *[Channels][]float32) {
	for ch := 0; ch < Channels; ch++ {
		copy(out[ch], in[ch])
	}
	for i := range in[0] {
		a.ring[a.pos] = float64(in[0][i]+in[1][i]) / 2
		a.pos = (a.pos + 1) % a.size
	}
}

// FrequencyData writes byte-scaled magnitudes (0..255 over -100..-30 dB) into
// dst and returns the filled prefix. Successive calls are smoothed over time.
func (a *Analyser) FrequencyData(dst []byte) []byte {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()

	for i := 0; i < a.size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	coeff := a.fft.Coefficients(nil, a.frame)

	bins := a.size / 2
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]
	scale := 1 / float64(a.size)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(coeff[k]) * scale
		a.smoothed[k] = analyserSmoothing*a.smoothed[k] + (1-analyserSmoothing)*mag

		db := analyserMinDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := 255 * (db - analyserMinDecibels) / (analyserMaxDecibels - analyserMinDecibels)
		dst[k] = byte(math.Max(0, math.Min(255, v)))
	}
	return dst
}

func blackman(n int) []float64 {
	w := make([]float64, n)
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
