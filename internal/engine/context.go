// Package engine is a small software audio graph: gain, filter, analyser,
// buffer-source, delay and convolver nodes rendered in fixed quanta against a
// shared sample clock, with sample-accurate parameter automation.
package engine

import (
	"errors"
	"sync"
)

const (
	// DefaultSampleRate is used when no WithSampleRate option is given.
	DefaultSampleRate = 48000
	// Channels is the channel count of every node output. Mono buffers are
	// up-mixed by their source node.
	Channels = 2
	// Quantum is the number of frames rendered per graph pass.
	Quantum = 128
)

var (
	ErrNotStarted     = errors.New("source not started")
	ErrAlreadyStarted = errors.New("source already started")
	ErrAlreadyStopped = errors.New("source already stopped")
	ErrRange          = errors.New("value out of range")
)

// State is the run state of a Context.
type State int

const (
	Suspended State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "suspended"
}

// Option configures a Context.
type Option func(*Context)

// WithSampleRate sets the rendering sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Context) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithDispatcher replaces the function used to deliver source end callbacks.
// The default runs each callback on its own goroutine.
func WithDispatcher(dispatch func(func())) Option {
	return func(c *Context) {
		if dispatch != nil {
			c.dispatch = dispatch
		}
	}
}

// Context owns the graph, the automation timelines and the mixing clock.
// All node and parameter methods are safe for concurrent use; rendering holds
// the context lock for the duration of a Render call.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	state      State
	frame      int64 // frames rendered since creation
	block      int64 // quantum counter, drives per-pass output caching
	dest       *Destination
	dispatch   func(func())
	pending    []func()

	leftover [Channels][]float32
}

// NewContext creates a suspended context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		sampleRate: DefaultSampleRate,
		state:      Suspended,
		dispatch:   func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dest = &Destination{}
	c.dest.init(c, c.dest)
	return c
}

// SampleRate returns the rendering sample rate in Hz.
func (c *Context) SampleRate() int {
	return c.sampleRate
}

// CurrentTime returns the clock position in seconds of rendered audio.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Context) now() float64 {
	return float64(c.frame) / float64(c.sampleRate)
}

// State reports whether the clock is running.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume starts the clock. Resuming a running context is a no-op.
func (c *Context) Resume() {
	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
}

// Suspend halts the clock; Render produces silence until Resume.
func (c *Context) Suspend() {
	c.mu.Lock()
	c.state = Suspended
	c.mu.Unlock()
}

// Destination is the graph's final node. Whatever is connected to it is
// summed into Render's output.
func (c *Context) Destination() *Destination {
	return c.dest
}

// Render fills dst with interleaved stereo frames of the master mix and
// advances the clock. A suspended context writes silence and keeps its clock.
// It returns the number of frames written.
func (c *Context) Render(dst []float32) int {
	frames := len(dst) / Channels

	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		for i := range dst {
			dst[i] = 0
		}
		return frames
	}

	written := 0
	for written < frames {
		if len(c.leftover[0]) == 0 {
			out := c.renderQuantum()
			for ch := 0; ch < Channels; ch++ {
				c.leftover[ch] = append(c.leftover[ch][:0], out[ch]...)
			}
		}
		n := len(c.leftover[0])
		if n > frames-written {
			n = frames - written
		}
		for i := 0; i < n; i++ {
			for ch := 0; ch < Channels; ch++ {
				dst[(written+i)*Channels+ch] = c.leftover[ch][i]
			}
		}
		for ch := 0; ch < Channels; ch++ {
			c.leftover[ch] = c.leftover[ch][n:]
		}
		written += n
	}

	ended := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range ended {
		c.dispatch(fn)
	}
	return frames
}

// renderQuantum runs one graph pass. Must be called with mu held.
func (c *Context) renderQuantum() [Channels][]float32 {
	c.block++
	out := c.dest.pull()
	c.frame += Quantum
	return out
}

// queueEnded schedules fn for delivery once the current render pass has
// released the lock. Must be called with mu held.
func (c *Context) queueEnded(fn func()) {
	if fn != nil {
		c.pending = append(c.pending, fn)
	}
}

// quantumStart is the clock time of the first frame in the current pass.
// Must be called with mu held during a render.
func (c *Context) quantumStart() float64 {
	return c.now()
}
