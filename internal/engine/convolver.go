package engine

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	convolverFFTSize         = 2 * Quantum
	convolverGainCalibration = 0.00125
	convolverCalibrationRate = 44100.0
	convolverMinPower        = 0.000125
)

// Convolver filters its input through an impulse response using uniformly
// partitioned overlap-save FFT convolution. Each output channel is convolved
// with the matching impulse response channel.
type Convolver struct {
	node
	normalize bool
	buffer    *Buffer
	fft       *fourier.FFT

	partitions [Channels][][]complex128 // impulse response spectra
	history    [Channels][][]complex128 // input spectra, newest first
	prev       [Channels][]float64
	frame      []float64
	acc        []complex128
}

// NewConvolver creates a convolver with normalisation enabled and no impulse
// response; it outputs silence until SetBuffer is called.
func (c *Context) NewConvolver() *Convolver {
	v := &Convolver{
		normalize: true,
		fft:       fourier.NewFFT(convolverFFTSize),
		frame:     make([]float64, convolverFFTSize),
		acc:       make([]complex128, convolverFFTSize/2+1),
	}
	for ch := 0; ch < Channels; ch++ {
		v.prev[ch] = make([]float64, Quantum)
	}
	v.init(c, v)
	return v
}

// SetNormalize controls impulse response power normalisation. It applies to
// the next SetBuffer call.
func (v *Convolver) SetNormalize(on bool) {
	v.ctx.mu.Lock()
	v.normalize = on
	v.ctx.mu.Unlock()
}

// Buffer returns the current impulse response.
func (v *Convolver) Buffer() *Buffer {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	return v.buffer
}

// SetBuffer installs an impulse response and resets the convolution state.
func (v *Convolver) SetBuffer(ir *Buffer) {
	var parts [Channels][][]complex128
	if ir != nil && ir.Len() > 0 && ir.NumChannels() > 0 {
		scale := 1.0
		v.ctx.mu.Lock()
		normalize := v.normalize
		rate := float64(v.ctx.sampleRate)
		v.ctx.mu.Unlock()
		if normalize {
			scale = normalisationScale(ir, rate)
		}

		n := (ir.Len() + Quantum - 1) / Quantum
		fft := fourier.NewFFT(convolverFFTSize)
		seg := make([]float64, convolverFFTSize)
		for ch := 0; ch < Channels; ch++ {
			src := ir.Data[min(ch, ir.NumChannels()-1)]
			parts[ch] = make([][]complex128, n)
			for p := 0; p < n; p++ {
				clear(seg)
				for i := 0; i < Quantum; i++ {
					if j := p*Quantum + i; j < len(src) {
						seg[i] = float64(src[j]) * scale
					}
				}
				parts[ch][p] = fft.Coefficients(nil, seg)
			}
		}
	}

	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	v.buffer = ir
	v.partitions = parts
	for ch := 0; ch < Channels; ch++ {
		v.history[ch] = make([][]complex128, len(parts[ch]))
		clear(v.prev[ch])
	}
}

func normalisationScale(ir *Buffer, rate float64) float64 {
	var power float64
	for _, data := range ir.Data {
		for _, s := range data {
			power += float64(s) * float64(s)
		}
	}
	power = math.Sqrt(power / float64(ir.NumChannels()*ir.Len()))
	if math.IsNaN(power) || math.IsInf(power, 0) || power < convolverMinPower {
		power = convolverMinPower
	}
	return convolverGainCalibration / power * (convolverCalibrationRate / rate)
}

func (v *Convolver) process(in, out *[Channels][]float32) {
	for ch := 0; ch < Channels; ch++ {
		parts := v.partitions[ch]
		if len(parts) == 0 {
			clear(out[ch])
			continue
		}

		copy(v.frame, v.prev[ch])
		for i, s := range in[ch] {
			v.frame[Quantum+i] = float64(s)
			v.prev[ch][i] = float64(s)
		}
		coeffs := v.fft.Coefficients(nil, v.frame)

		hist := v.history[ch]
		copy(hist[1:], hist[:len(hist)-1])
		hist[0] = coeffs

		clear(v.acc)
		for p, h := range parts {
			x := hist[p]
			if x == nil {
				break
			}
			for k := range v.acc {
				v.acc[k] += x[k] * h[k]
			}
		}
		seq := v.fft.Sequence(nil, v.acc)
		norm := 1 / float64(convolverFFTSize)
		for i := 0; i < Quantum; i++ {
			out[ch][i] = float32(seq[Quantum+i] * norm)
		}
	}
}
