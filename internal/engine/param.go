package engine

import (
	"fmt"
	"math"
	"sort"
)

type eventKind int

const (
	setValue eventKind = iota
	linearRamp
	expRamp
	setTarget
)

type event struct {
	kind   eventKind
	time   float64
	value  float64
	tau    float64 // setTarget time constant
	issued float64 // clock time when scheduled; start of a leading ramp
}

func (e event) isRamp() bool { return e.kind == linearRamp || e.kind == expRamp }

// Param is an automatable node parameter. Scheduled events are kept sorted by
// time and evaluated per sample while rendering.
type Param struct {
	ctx    *Context
	value  float64
	events []event
}

func newParam(c *Context, v float64) *Param {
	return &Param{ctx: c, value: v}
}

// Value returns the parameter value at the current clock time.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.now())
}

// ValueAt returns the value the automation timeline yields at time t.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

// SetValue sets the value immediately. With automation pending it behaves as
// SetValueAtTime(v, now).
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	if len(p.events) == 0 {
		p.value = v
		return
	}
	p.insert(event{kind: setValue, time: p.ctx.now(), value: v})
}

// SetValueAtTime steps to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(event{kind: setValue, time: t, value: v})
}

// LinearRampToValueAtTime ramps linearly from the previous event to v, ending at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(event{kind: linearRamp, time: t, value: v})
}

// ExponentialRampToValueAtTime ramps exponentially from the previous event to
// v, ending at t. v must be non-zero and finite.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) error {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("exponential ramp target %v: %w", v, ErrRange)
	}
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(event{kind: expRamp, time: t, value: v})
	return nil
}

// SetTargetAtTime approaches target exponentially from time start with time
// constant tau (seconds). A zero tau is an immediate step.
func (p *Param) SetTargetAtTime(target, start, tau float64) error {
	if tau < 0 || math.IsNaN(tau) {
		return fmt.Errorf("time constant %v: %w", tau, ErrRange)
	}
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	if tau == 0 {
		p.insert(event{kind: setValue, time: start, value: target})
		return nil
	}
	p.insert(event{kind: setTarget, time: start, value: target, tau: tau})
	return nil
}

// CancelScheduledValues drops every event scheduled at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// Pending reports the number of automation events not yet settled.
func (p *Param) Pending() int {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return len(p.events)
}

func (p *Param) insert(e event) {
	e.issued = p.ctx.now()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > e.time })
	p.events = append(p.events, event{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

func (p *Param) valueAt(t float64) float64 {
	cur, curT := p.value, math.Inf(-1)
	for i, e := range p.events {
		switch e.kind {
		case setValue:
			if t < e.time {
				return cur
			}
			cur, curT = e.value, e.time

		case linearRamp, expRamp:
			start := curT
			if i == 0 {
				start = e.issued
			}
			if t < e.time {
				if t <= start {
					return cur
				}
				frac := (t - start) / (e.time - start)
				return interpolate(e.kind, cur, e.value, frac)
			}
			cur, curT = e.value, e.time

		case setTarget:
			if t < e.time {
				return cur
			}
			if i+1 < len(p.events) {
				next := p.events[i+1]
				if next.isRamp() {
					// the ramp takes over from the target's start point
					curT = e.time
					continue
				}
				if t >= next.time {
					cur, curT = approach(cur, e, next.time), next.time
					continue
				}
			}
			return approach(cur, e, t)
		}
	}
	return cur
}

func interpolate(kind eventKind, from, to, frac float64) float64 {
	if kind == linearRamp {
		return from + (to-from)*frac
	}
	if from*to <= 0 {
		return from
	}
	return from * math.Pow(to/from, frac)
}

func approach(from float64, e event, t float64) float64 {
	return e.value + (from-e.value)*math.Exp(-(t-e.time)/e.tau)
}

// settle folds events that lie entirely in the past into the intrinsic value
// so timelines stay short. Must be called with ctx.mu held.
func (p *Param) settle(now float64) {
	k := -1
	for i, e := range p.events {
		if e.time > now {
			break
		}
		if e.kind != setTarget {
			k = i
		}
	}
	if k >= 0 {
		v := p.valueAt(p.events[k].time)
		if k == len(p.events)-1 {
			p.value = v
			p.events = p.events[:0]
		} else {
			anchor := event{kind: setValue, time: p.events[k].time, value: v, issued: p.events[k].issued}
			p.events = append(p.events[:0], p.events[k:]...)
			p.events[0] = anchor
		}
	}
	// a converged trailing target absorbs the anchor before it
	if n := len(p.events); n > 0 {
		e := p.events[n-1]
		if e.kind == setTarget && now-e.time > 10*e.tau {
			p.value = e.value
			p.events = p.events[:0]
		}
	}
}

// fill writes the per-frame values for the current quantum into dst and
// reports whether they are all equal. Must be called with ctx.mu held.
func (p *Param) fill(dst []float64) bool {
	t0 := p.ctx.now()
	p.settle(t0)
	if len(p.events) == 0 {
		for i := range dst {
			dst[i] = p.value
		}
		return true
	}
	step := 1 / float64(p.ctx.sampleRate)
	for i := range dst {
		dst[i] = p.valueAt(t0 + float64(i)*step)
	}
	return false
}

// current is the k-rate value for the current quantum. Must be called with
// ctx.mu held.
func (p *Param) current() float64 {
	t0 := p.ctx.now()
	p.settle(t0)
	return p.valueAt(t0)
}
