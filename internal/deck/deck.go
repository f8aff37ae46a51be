// Package deck implements one playback channel of the console: its audio
// graph, its Idle/Loaded/Playing state machine and the load, play, stop,
// volume and effect operations.
package deck

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"crossdeck/internal/effects"
	"crossdeck/internal/engine"
	"crossdeck/pkg/models"
)

// ErrNoTrack is returned by Load when given a nil track.
var ErrNoTrack = errors.New("no track")

const (
	// VolumeTimeConstant smooths SetVolume changes, in seconds.
	VolumeTimeConstant = 0.1
	// MixRampTime is the wet/dry crossfade length of SetEffectMix, in seconds.
	MixRampTime = 0.05
	// AnalyserSize is the FFT size of the visualisation feed.
	AnalyserSize = 256
)

// State is a deck's playback state.
type State int

const (
	Idle State = iota
	Loaded
	Playing
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{Idle, Loaded, Playing} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown deck state %q", b)
}

// Session is the part of the shared session a deck reads.
type Session interface {
	DirectorEnabled() bool
}

// Observer receives deck notifications for the UI. Calls are made without
// the deck lock held.
type Observer interface {
	TitleChanged(id models.ChannelID, title string)
	PlaybackChanged(id models.ChannelID, playing bool)
}

type nopObserver struct{}

func (nopObserver) TitleChanged(models.ChannelID, string)  {}
func (nopObserver) PlaybackChanged(models.ChannelID, bool) {}

// Colors is the display colour of each channel.
var Colors = map[models.ChannelID]string{
	models.ChannelA: "#ff5f56",
	models.ChannelB: "#27c93f",
	models.ChannelC: "#2f9bff",
	models.ChannelD: "#ffbd2e",
}

// Option configures a Deck.
type Option func(*Deck)

// WithObserver sets the UI observer.
func WithObserver(o Observer) Option {
	return func(d *Deck) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithRegistry sets the effect registry used by ToggleEffect.
func WithRegistry(r *effects.Registry) Option {
	return func(d *Deck) {
		if r != nil {
			d.registry = r
		}
	}
}

// WithLogger sets the logger; the deck adds its own fields.
func WithLogger(l *logrus.Logger) Option {
	return func(d *Deck) {
		if l != nil {
			d.logger = l.WithFields(logrus.Fields{"component": "deck", "deck": d.id})
		}
	}
}

// Deck is one playback channel. All methods are safe for concurrent use;
// operations on one deck are serialised by its own lock.
type Deck struct {
	id       models.ChannelID
	color    string
	ctx      *engine.Context
	session  Session
	registry *effects.Registry
	observer Observer
	logger   *logrus.Entry

	// graph, fixed at construction
	filter   *engine.Filter
	dry      *engine.Gain
	wet      *engine.Gain
	channel  *engine.Gain
	analyser *engine.Analyser

	mutex    sync.Mutex
	state    State
	track    *models.Track
	source   *engine.BufferSource
	epoch    uint64
	volume   float64
	mix      float64
	effectOn bool
	bus      *effects.Unit
	onEnd    func(models.ChannelID)
	spectrum []byte
}

// New builds a deck and its graph, connected to the context destination:
// source → filter → {dry, wet → bus} → channel gain → analyser → destination.
func New(id models.ChannelID, ctx *engine.Context, sess Session, opts ...Option) *Deck {
	d := &Deck{
		id:       id,
		color:    Colors[id],
		ctx:      ctx,
		session:  sess,
		registry: effects.NewRegistry(),
		observer: nopObserver{},
		logger:   logrus.StandardLogger().WithFields(logrus.Fields{"component": "deck", "deck": id}),
		volume:   1,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.filter = ctx.NewFilter()
	d.dry = ctx.NewGain()
	d.wet = ctx.NewGain()
	d.wet.Gain().SetValue(0)
	d.channel = ctx.NewGain()
	d.analyser = ctx.NewAnalyser(AnalyserSize)

	d.filter.Connect(d.dry)
	d.filter.Connect(d.wet)
	d.dry.Connect(d.channel)
	d.wet.Connect(d.channel)
	d.channel.Connect(d.analyser)
	d.analyser.Connect(ctx.Destination())
	return d
}

// ID returns the deck's channel id.
func (d *Deck) ID() models.ChannelID { return d.id }

// Color returns the deck's display colour.
func (d *Deck) Color() string { return d.color }

// SetEndHandler sets the function called with the deck id when playback ends
// naturally while the director is enabled.
func (d *Deck) SetEndHandler(fn func(models.ChannelID)) {
	d.mutex.Lock()
	d.onEnd = fn
	d.mutex.Unlock()
}

// State returns the playback state.
func (d *Deck) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Track returns the loaded track, or nil.
func (d *Deck) Track() *models.Track {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.track
}

// Epoch changes on every Load and Play. A deferred action captured against an
// older epoch refers to playback that no longer exists.
func (d *Deck) Epoch() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.epoch
}

// Load installs track, stopping current playback first. The observer is
// told the new title.
func (d *Deck) Load(track *models.Track) error {
	if track == nil {
		return ErrNoTrack
	}

	d.mutex.Lock()
	wasPlaying := d.state == Playing
	if wasPlaying {
		d.stopLocked()
	}
	d.track = track
	d.state = Loaded
	d.epoch++
	d.mutex.Unlock()

	d.logger.WithField("title", track.Title).Info("Track loaded")
	if wasPlaying {
		d.observer.PlaybackChanged(d.id, false)
	}
	d.observer.TitleChanged(d.id, track.Title)
	return nil
}

// Play starts the loaded track from the beginning on a fresh source. Without
// a loaded track it does nothing.
func (d *Deck) Play() {
	d.mutex.Lock()
	if d.track == nil {
		d.mutex.Unlock()
		d.logger.Debug("Play ignored, no track loaded")
		return
	}

	if d.ctx.State() != engine.Running {
		d.ctx.Resume()
	}
	d.teardownLocked()

	src := d.ctx.NewBufferSource(d.track.Buffer)
	src.Connect(d.filter)
	src.OnEnded(func() { d.handleEnded(src) })
	if err := src.Start(d.ctx.CurrentTime()); err != nil {
		d.mutex.Unlock()
		d.logger.WithError(err).Error("Failed to start source")
		return
	}
	d.source = src
	d.state = Playing
	d.epoch++
	title := d.track.Title
	d.mutex.Unlock()

	d.logger.WithField("title", title).Info("Playback started")
	d.observer.PlaybackChanged(d.id, true)
}

// Stop ends playback. It never fails: stopping an idle or already stopped
// deck is a no-op. Filter automation is cancelled and the filter returns to
// neutral.
func (d *Deck) Stop() {
	d.mutex.Lock()
	wasPlaying := d.state == Playing
	d.stopLocked()
	d.mutex.Unlock()

	if wasPlaying {
		d.logger.Info("Playback stopped")
		d.observer.PlaybackChanged(d.id, false)
	}
}

// TogglePlay stops a playing deck and plays any other.
func (d *Deck) TogglePlay() {
	if d.State() == Playing {
		d.Stop()
		return
	}
	d.Play()
}

// stopLocked must be called with the deck lock held.
func (d *Deck) stopLocked() {
	d.teardownLocked()
	effects.Neutral(d.filter, d.ctx.CurrentTime())
	d.effectOn = false
	if d.track != nil {
		d.state = Loaded
	} else {
		d.state = Idle
	}
}

// teardownLocked stops and detaches the active source. The end callback is
// removed first so an explicit stop is never reported as a natural end.
func (d *Deck) teardownLocked() {
	src := d.source
	if src == nil {
		return
	}
	d.source = nil
	src.OnEnded(nil)
	if err := src.Stop(); err != nil {
		d.logger.WithError(err).Debug("Redundant source stop")
	}
	src.Disconnect()
}

func (d *Deck) handleEnded(src *engine.BufferSource) {
	d.mutex.Lock()
	if d.source != src {
		d.mutex.Unlock()
		return
	}
	d.source = nil
	src.Disconnect()
	d.state = Loaded
	onEnd := d.onEnd
	d.mutex.Unlock()

	d.logger.Info("Playback ended")
	d.observer.PlaybackChanged(d.id, false)
	if onEnd != nil && d.session != nil && d.session.DirectorEnabled() {
		onEnd(d.id)
	}
}

// SetVolume approaches level (clamped to [0,1]) with a 0.1 s time constant.
// The approach starts from the gain at the current time and replaces any
// pending gain automation, including a crossfade ramp.
func (d *Deck) SetVolume(level float64) {
	level = clamp01(level)
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.volume = level
	now := d.ctx.CurrentTime()
	g := d.channel.Gain()
	cur := g.ValueAt(now)
	g.CancelScheduledValues(now)
	g.SetValueAtTime(cur, now)
	if err := g.SetTargetAtTime(level, now, VolumeTimeConstant); err != nil {
		d.logger.WithError(err).Warn("Failed to schedule volume")
	}
}

// Volume returns the last level set with SetVolume.
func (d *Deck) Volume() float64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.volume
}

// Gain returns the channel gain at the current clock time.
func (d *Deck) Gain() float64 {
	return d.channel.Gain().Value()
}

// GainAt returns the value the channel gain automation yields at time t.
func (d *Deck) GainAt(t float64) float64 {
	return d.channel.Gain().ValueAt(t)
}

// ForceGain drops pending gain automation and sets the gain immediately.
func (d *Deck) ForceGain(v float64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := d.ctx.CurrentTime()
	g := d.channel.Gain()
	g.CancelScheduledValues(now)
	g.SetValueAtTime(v, now)
}

// RampGain schedules a linear gain ramp from one value to another between
// start and end (clock seconds).
func (d *Deck) RampGain(from, to, start, end float64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	g := d.channel.Gain()
	g.CancelScheduledValues(start)
	g.SetValueAtTime(from, start)
	g.LinearRampToValueAtTime(to, end)
}

// ToggleEffect flips the effect flag and engages or releases the behaviour
// registered for kind. It returns the new flag.
func (d *Deck) ToggleEffect(kind effects.Kind) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.effectOn = !d.effectOn
	now := d.ctx.CurrentTime()
	b := d.registry.Lookup(kind)
	if d.effectOn {
		if err := b.Engage(d.filter, now); err != nil {
			d.logger.WithError(err).WithField("kind", kind).Warn("Effect engage failed")
		}
	} else {
		b.Release(d.filter, now)
	}
	d.logger.WithFields(logrus.Fields{"kind": kind, "active": d.effectOn}).Debug("Effect toggled")
	return d.effectOn
}

// EffectActive reports the effect flag.
func (d *Deck) EffectActive() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.effectOn
}

// SetEffectMix crossfades the wet/dry bus to mix (clamped to [0,1]): wet gain
// mix, dry gain 1-mix, over 50 ms.
func (d *Deck) SetEffectMix(mix float64) {
	mix = clamp01(mix)
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.mix = mix
	now := d.ctx.CurrentTime()
	rampTo(d.wet.Gain(), mix, now, MixRampTime)
	rampTo(d.dry.Gain(), 1-mix, now, MixRampTime)
}

// EffectMix returns the wet/dry mix.
func (d *Deck) EffectMix() float64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.mix
}

// MountEffect places unit on the wet path, replacing any mounted unit. A nil
// unit connects the wet gain straight to the channel.
func (d *Deck) MountEffect(unit *effects.Unit) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.bus != nil {
		d.wet.DisconnectFrom(d.bus.Input)
		d.bus.Output.DisconnectFrom(d.channel)
	} else {
		d.wet.DisconnectFrom(d.channel)
	}

	d.bus = unit
	if unit == nil {
		d.wet.Connect(d.channel)
		return
	}
	d.wet.Connect(unit.Input)
	unit.Output.Connect(d.channel)
	d.logger.WithField("kind", unit.Kind).Info("Effect mounted on bus")
}

// BusEffect returns the kind mounted on the bus, or KindNone.
func (d *Deck) BusEffect() effects.Kind {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.bus == nil {
		return effects.KindNone
	}
	return d.bus.Kind
}

// Spectrum returns the analyser's byte frequency bins while playing, nil
// otherwise. It is meant to be polled once per display refresh.
func (d *Deck) Spectrum() []byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != Playing {
		return nil
	}
	d.spectrum = d.analyser.FrequencyData(d.spectrum)
	out := make([]byte, len(d.spectrum))
	copy(out, d.spectrum)
	return out
}

func rampTo(p *engine.Param, v, now, length float64) {
	cur := p.ValueAt(now)
	p.CancelScheduledValues(now)
	p.SetValueAtTime(cur, now)
	p.LinearRampToValueAtTime(v, now+length)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// View is a read-only snapshot of a deck for the UI.
type View struct {
	ID           models.ChannelID `json:"id"`
	Color        string           `json:"color"`
	State        State            `json:"state"`
	Title        string           `json:"title,omitempty"`
	TrackID      string           `json:"trackId,omitempty"`
	Volume       float64          `json:"volume"`
	Gain         float64          `json:"gain"`
	EffectActive bool             `json:"effectActive"`
	EffectMix    float64          `json:"effectMix"`
	BusEffect    effects.Kind     `json:"busEffect"`
}

// Snapshot returns the deck's current view.
func (d *Deck) Snapshot() View {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	v := View{
		ID:           d.id,
		Color:        d.color,
		State:        d.state,
		Volume:       d.volume,
		Gain:         d.channel.Gain().Value(),
		EffectActive: d.effectOn,
		EffectMix:    d.mix,
		BusEffect:    effects.KindNone,
	}
	if d.track != nil {
		v.Title = d.track.Title
		v.TrackID = d.track.ID
	}
	if d.bus != nil {
		v.BusEffect = d.bus.Kind
	}
	return v
}
