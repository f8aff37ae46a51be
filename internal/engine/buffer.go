package engine

import "time"

// Buffer holds decoded, non-interleaved samples. Buffers are shared by
// reference and must not be modified once handed to a source.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(channels, length, sampleRate int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, length)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// NewBuffer allocates a zeroed buffer at the context sample rate.
func (c *Context) NewBuffer(channels, length int) *Buffer {
	return NewBuffer(channels, length, c.sampleRate)
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.Data) }

// Len returns the length in sample frames.
func (b *Buffer) Len() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playing time at the buffer's own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.SampleRate) * float64(time.Second))
}
