// Package stream fans the master mix out to remote monitors over WebRTC.
package stream

import (
	"sync"
)

// ListenerBuffer is how many frames a listener may lag before frames drop
const ListenerBuffer = 150 // ~3 seconds at 20 ms per frame

// Broadcaster fans out PCM frames from the output tee to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// WriteFrame copies pcm and hands it to every listener. Slow listeners get
// frames dropped rather than blocking the audio thread.
func (b *Broadcaster) WriteFrame(pcm []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.listeners) == 0 {
		return
	}

	frame := make([]int16, len(pcm))
	copy(frame, pcm)
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			// listener too slow, drop frame to keep broadcast moving
		}
	}
}
