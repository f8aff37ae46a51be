//go:build !headless

package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"crossdeck/internal/engine"
)

// Device plays the master mix on the default audio output. The device's
// read callback is what advances the engine clock.
type Device struct {
	ctx    *oto.Context
	player *oto.Player
	mix    *mixer
	buf    []float32

	mutex   sync.Mutex
	started bool
}

// NewDevice opens the audio device at the engine's sample rate
func NewDevice(r Renderer, sink FrameSink, buffer time.Duration) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   r.SampleRate(),
		ChannelCount: engine.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	d := &Device{
		ctx: ctx,
		mix: newMixer(r, sink),
		buf: make([]float32, 4096),
	}
	d.player = ctx.NewPlayer(d)
	return d, nil
}

// Read implements io.Reader for the oto player
func (d *Device) Read(p []byte) (int, error) {
	n := len(p) / 4
	n -= n % engine.Channels
	if len(d.buf) < n {
		d.buf = make([]float32, n)
	}
	samples := d.buf[:n]
	d.mix.render(samples)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}

// Start begins playback
func (d *Device) Start() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.started {
		d.player.Play()
		d.started = true
	}
}

// Close stops playback and releases the player
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.started = false
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	return err
}
