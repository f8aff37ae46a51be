// Package effects builds reusable effect subgraphs and maps effect kinds to
// the filter behaviour a deck applies when an effect is toggled.
package effects

import (
	"math/rand"

	"crossdeck/internal/engine"
)

const (
	EchoDelay    = 0.5 // seconds
	EchoFeedback = 0.4

	ReverbLength = 2.0 // seconds of impulse response
)

// Unit is a constructed effect subgraph. Connect a signal into Input and take
// the processed signal from Output; Processor exposes the node whose
// parameters can be tweaked.
type Unit struct {
	Kind      Kind
	Input     engine.Node
	Output    engine.Node
	Processor engine.Node
}

// CreateEcho builds a 500 ms delay with a 0.4 feedback loop. The loop gain is
// below one so repeats always decay.
func CreateEcho(ctx *engine.Context) *Unit {
	delay := ctx.NewDelay(1)
	delay.DelayTime().SetValue(EchoDelay)

	feedback := ctx.NewGain()
	feedback.Gain().SetValue(EchoFeedback)

	delay.Connect(feedback)
	feedback.Connect(delay)

	return &Unit{Kind: KindEcho, Input: delay, Output: delay, Processor: delay}
}

// CreateReverb builds a convolver over a synthesized 2 s stereo impulse
// response: uniform noise in [-1, 1] under a (1 - i/n)^2 envelope. The
// channels are drawn independently, so the stereo image is not physically
// accurate.
func CreateReverb(ctx *engine.Context, rng *rand.Rand) *Unit {
	ir := ImpulseResponse(ctx.SampleRate(), ReverbLength, rng)
	conv := ctx.NewConvolver()
	conv.SetBuffer(ir)
	return &Unit{Kind: KindReverb, Input: conv, Output: conv, Processor: conv}
}

// ImpulseResponse synthesizes the decaying-noise impulse response used by
// CreateReverb.
func ImpulseResponse(sampleRate int, seconds float64, rng *rand.Rand) *engine.Buffer {
	n := int(float64(sampleRate) * seconds)
	ir := engine.NewBuffer(engine.Channels, n, sampleRate)
	for ch := range ir.Data {
		data := ir.Data[ch]
		for i := range data {
			decay := 1 - float64(i)/float64(n)
			data[i] = float32((rng.Float64()*2 - 1) * decay * decay)
		}
	}
	return ir
}

// Create builds the unit for kind. It returns nil for kinds without a
// subgraph (KindNone and KindSweep).
func Create(ctx *engine.Context, kind Kind, rng *rand.Rand) *Unit {
	switch kind {
	case KindEcho:
		return CreateEcho(ctx)
	case KindReverb:
		return CreateReverb(ctx, rng)
	}
	return nil
}
