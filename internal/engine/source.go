package engine

import "math"

// BufferSource plays a Buffer once. A source can be started and stopped a
// single time; a fresh source is needed for every playback.
type BufferSource struct {
	node
	buffer  *Buffer
	step    float64 // buffer frames per output frame
	pos     float64
	start   float64
	started bool
	done    bool
	onEnded func()
}

// NewBufferSource creates a source reading buf, resampling to the context
// rate when needed.
func (c *Context) NewBufferSource(buf *Buffer) *BufferSource {
	s := &BufferSource{buffer: buf, step: 1}
	if buf != nil && buf.SampleRate > 0 {
		s.step = float64(buf.SampleRate) / float64(c.sampleRate)
	}
	s.init(c, s)
	return s
}

// OnEnded registers fn to run once playback finishes, whether by reaching the
// end of the buffer or by Stop. fn runs outside the render lock.
func (s *BufferSource) OnEnded(fn func()) {
	s.ctx.mu.Lock()
	s.onEnded = fn
	s.ctx.mu.Unlock()
}

// Start begins playback at clock time when; a time in the past starts now.
func (s *BufferSource) Start(when float64) error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.start = math.Max(when, s.ctx.now())
	return nil
}

// Stop ends playback immediately.
func (s *BufferSource) Stop() error {
	s.ctx.mu.Lock()
	if !s.started {
		s.ctx.mu.Unlock()
		return ErrNotStarted
	}
	if s.done {
		s.ctx.mu.Unlock()
		return ErrAlreadyStopped
	}
	s.done = true
	fn := s.onEnded
	s.ctx.mu.Unlock()

	if fn != nil {
		s.ctx.dispatch(fn)
	}
	return nil
}

// Playing reports whether the source has started and not yet finished.
func (s *BufferSource) Playing() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.started && !s.done
}

func (s *BufferSource) process(_, out *[Channels][]float32) {
	for ch := 0; ch < Channels; ch++ {
		clear(out[ch])
	}
	if !s.started || s.done || s.buffer == nil {
		return
	}

	length := s.buffer.Len()
	nch := s.buffer.NumChannels()
	if nch == 0 {
		s.finish()
		return
	}
	t0 := s.ctx.now()
	rate := float64(s.ctx.sampleRate)

	for i := 0; i < Quantum; i++ {
		if t0+float64(i)/rate < s.start {
			continue
		}
		idx := int(s.pos)
		if idx >= length {
			s.finish()
			return
		}
		frac := float32(s.pos - float64(idx))
		for ch := 0; ch < Channels; ch++ {
			src := s.buffer.Data[min(ch, nch-1)]
			v := src[idx]
			if idx+1 < length {
				v += (src[idx+1] - v) * frac
			}
			out[ch][i] = v
		}
		s.pos += s.step
	}
	if int(s.pos) >= length {
		s.finish()
	}
}

func (s *BufferSource) finish() {
	if s.done {
		return
	}
	s.done = true
	s.ctx.queueEnded(s.onEnded)
}
