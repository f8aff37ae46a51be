package effects

import (
	"fmt"
	"sync"

	"crossdeck/internal/engine"
)

// Kind names an effect a deck can toggle or mount on its bus.
type Kind string

const (
	KindNone   Kind = "none"
	KindSweep  Kind = "sweep"
	KindEcho   Kind = "echo"
	KindReverb Kind = "reverb"
)

// ParseKind validates an effect kind name. An empty name is KindSweep.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindSweep, nil
	case KindNone, KindSweep, KindEcho, KindReverb:
		return k, nil
	}
	return "", fmt.Errorf("unknown effect kind %q", s)
}

// Behavior is what toggling an effect does to a deck's filter.
type Behavior interface {
	Engage(f *engine.Filter, now float64) error
	Release(f *engine.Filter, now float64)
}

// Sweep is the filter motion used for every effect kind today: a high-pass
// whose cutoff rises exponentially from From to To over Duration seconds.
type Sweep struct {
	From     float64
	To       float64
	Duration float64
}

// DefaultSweep opens a high-pass from 100 Hz to 3 kHz over two seconds.
var DefaultSweep = Sweep{From: 100, To: 3000, Duration: 2}

func (s Sweep) Engage(f *engine.Filter, now float64) error {
	f.SetType(engine.HighPass)
	f.Frequency().SetValueAtTime(s.From, now)
	if err := f.Frequency().ExponentialRampToValueAtTime(s.To, now+s.Duration); err != nil {
		return fmt.Errorf("sweep ramp: %w", err)
	}
	return nil
}

func (s Sweep) Release(f *engine.Filter, now float64) {
	Neutral(f, now)
}

// Neutral cancels any filter automation and returns the filter to an all-pass
// at 0 Hz.
func Neutral(f *engine.Filter, now float64) {
	f.Frequency().CancelScheduledValues(now)
	f.SetType(engine.AllPass)
	f.Frequency().SetValueAtTime(0, now)
}

// Registry maps effect kinds to behaviours. Kinds without an entry fall back
// to the default behaviour, so the kind passed to a toggle never changes the
// signal path unless something was registered for it.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[Kind]Behavior
	fallback Behavior
}

// NewRegistry creates a registry whose default behaviour is DefaultSweep.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   make(map[Kind]Behavior),
		fallback: DefaultSweep,
	}
}

// Register binds a behaviour to kind.
func (r *Registry) Register(kind Kind, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = b
}

// SetDefault replaces the fallback behaviour.
func (r *Registry) SetDefault(b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = b
}

// Lookup returns the behaviour for kind.
func (r *Registry) Lookup(kind Kind) Behavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byKind[kind]; ok {
		return b
	}
	return r.fallback
}
