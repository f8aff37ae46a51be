// Package director runs unattended deck-to-deck transitions. A periodic scan
// watches the lead deck and, with a fixed probability per tick, crossfades it
// into its successor channel with a random catalog track.
package director

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crossdeck/internal/deck"
	"crossdeck/internal/effects"
	"crossdeck/internal/session"
	"crossdeck/pkg/models"
)

var ErrUnknownDeck = errors.New("unknown deck")

// Config holds the director's timing and policy.
type Config struct {
	Interval       time.Duration    // scan period
	Probability    float64          // chance per tick of starting a transition
	Window         time.Duration    // crossfade length; the outgoing deck stops after it
	DefaultChannel models.ChannelID // deck used to start the mix from silence
	// GuardDeferredStop skips the outgoing deck's deferred stop when the deck
	// was reloaded or restarted during the crossfade.
	GuardDeferredStop bool
}

// DefaultConfig returns a 1 s scan, 5% per tick, a 5 s window and channel A.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Second,
		Probability:       0.05,
		Window:            5 * time.Second,
		DefaultChannel:    models.ChannelA,
		GuardDeferredStop: true,
	}
}

// State is the director's run state.
type State int

const (
	Off State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "off"
}

// Clock reads the engine's mixing clock in seconds.
type Clock interface {
	CurrentTime() float64
}

// TransitionLog persists transition records. The director only writes.
type TransitionLog interface {
	RecordTransition(t models.Transition) error
	FinishTransition(id, outcome string, finishedAt time.Time) error
}

// Observer is told about director activity for the UI.
type Observer interface {
	DirectorChanged(enabled bool)
	TransitionChanged(t models.Transition)
}

// Option configures a Director.
type Option func(*Director)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(d *Director) { d.sched = s }
}

// WithRand sets the random source used for ticks and track picks.
func WithRand(r *rand.Rand) Option {
	return func(d *Director) { d.rng = r }
}

// WithTransitionLog sets where transitions are recorded.
func WithTransitionLog(l TransitionLog) Option {
	return func(d *Director) { d.history = l }
}

// WithObserver sets the UI observer.
func WithObserver(o Observer) Option {
	return func(d *Director) { d.observer = o }
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *logrus.Logger) Option {
	return func(d *Director) {
		if l != nil {
			d.logger = l.WithField("component", "director")
		}
	}
}

// Director is the autonomous transition scheduler.
type Director struct {
	cfg      Config
	sess     *session.Session
	clock    Clock
	sched    Scheduler
	history  TransitionLog
	observer Observer
	logger   *logrus.Entry

	mutex sync.Mutex
	rng   *rand.Rand
	scan  Task

	// serialises transitions so two crossfades never interleave their deck
	// operations
	transition sync.Mutex
}

// New creates a director in the Off state.
func New(cfg Config, sess *session.Session, clock Clock, opts ...Option) *Director {
	d := &Director{
		cfg:    cfg,
		sess:   sess,
		clock:  clock,
		sched:  WallClock{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logrus.StandardLogger().WithField("component", "director"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Successor is the fixed channel cycle A→B→C→D→A.
func Successor(id models.ChannelID) models.ChannelID {
	for i, c := range models.Channels {
		if c == id {
			return models.Channels[(i+1)%len(models.Channels)]
		}
	}
	return models.Channels[0]
}

// State reports whether the periodic scan is running.
func (d *Director) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.scan != nil {
		return Scanning
	}
	return Off
}

// Status is the JSON view of the director.
type Status struct {
	Enabled     bool    `json:"enabled"`
	State       string  `json:"state"`
	Interval    float64 `json:"interval"` // seconds
	Probability float64 `json:"probability"`
	Window      float64 `json:"window"` // seconds
	Guarded     bool    `json:"guardDeferredStop"`
}

// Status returns the director's configuration and state.
func (d *Director) Status() Status {
	return Status{
		Enabled:     d.sess.DirectorEnabled(),
		State:       d.State().String(),
		Interval:    d.cfg.Interval.Seconds(),
		Probability: d.cfg.Probability,
		Window:      d.cfg.Window.Seconds(),
		Guarded:     d.cfg.GuardDeferredStop,
	}
}

// Enable sets the session flag and starts the periodic scan. When no deck is
// playing and the catalog has tracks, the first track is started on the
// default channel so the mix never begins in silence.
func (d *Director) Enable() {
	d.mutex.Lock()
	if d.scan != nil {
		d.mutex.Unlock()
		return
	}
	d.sess.SetDirectorEnabled(true)
	d.scan = d.sched.Every(d.cfg.Interval, d.tick)
	d.mutex.Unlock()

	d.logger.WithFields(logrus.Fields{
		"interval":    d.cfg.Interval,
		"probability": d.cfg.Probability,
	}).Info("Director enabled")
	if d.observer != nil {
		d.observer.DirectorChanged(true)
	}
	d.kickstart()
}

// Disable clears the flag and cancels the scan. Deferred stops of
// crossfades already in progress still run.
func (d *Director) Disable() {
	d.mutex.Lock()
	if d.scan == nil {
		d.mutex.Unlock()
		return
	}
	d.scan.Stop()
	d.scan = nil
	d.sess.SetDirectorEnabled(false)
	d.mutex.Unlock()

	d.logger.Info("Director disabled")
	if d.observer != nil {
		d.observer.DirectorChanged(false)
	}
}

func (d *Director) kickstart() {
	if d.sess.Lead() != nil {
		return
	}
	track, err := d.sess.Catalog().At(0)
	if err != nil {
		d.logger.Debug("Catalog empty, nothing to start")
		return
	}
	dk, ok := d.sess.Deck(d.cfg.DefaultChannel)
	if !ok {
		d.logger.WithField("deck", d.cfg.DefaultChannel).Warn("Default deck not registered")
		return
	}
	if err := dk.Load(track); err != nil {
		d.logger.WithError(err).Warn("Kickstart load failed")
		return
	}
	dk.Play()
	d.logger.WithFields(logrus.Fields{"deck": dk.ID(), "title": track.Title}).Info("Started mix from silence")
}

func (d *Director) tick() {
	if !d.sess.DirectorEnabled() {
		return
	}
	lead := d.sess.Lead()
	if lead == nil {
		return
	}
	if !d.roll() {
		return
	}
	if _, err := d.TriggerTransition(lead.ID()); err != nil {
		d.logger.WithError(err).Debug("Transition skipped")
	}
}

func (d *Director) roll() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.rng.Float64() < d.cfg.Probability
}

// NotifyEnd is the natural-end callback of the decks. It runs the scan at
// once; when nothing else is playing it transitions from the ended deck so
// the mix still gets a successor.
func (d *Director) NotifyEnd(id models.ChannelID) {
	if !d.sess.DirectorEnabled() {
		return
	}
	d.logger.WithField("deck", id).Debug("Deck ended")
	if d.sess.Lead() != nil {
		d.tick()
		return
	}
	if _, err := d.TriggerTransition(id); err != nil {
		d.logger.WithError(err).WithField("deck", id).Debug("Transition after end skipped")
	}
}

// TriggerTransition crossfades from the deck on current into its successor
// with a random catalog track. With an empty catalog it changes nothing and
// returns session.ErrEmptyCatalog.
func (d *Director) TriggerTransition(current models.ChannelID) (*models.Transition, error) {
	d.transition.Lock()
	defer d.transition.Unlock()

	from, ok := d.sess.Deck(current)
	if !ok {
		return nil, fmt.Errorf("deck %s: %w", current, ErrUnknownDeck)
	}
	destID := Successor(current)
	to, ok := d.sess.Deck(destID)
	if !ok {
		return nil, fmt.Errorf("deck %s: %w", destID, ErrUnknownDeck)
	}

	d.mutex.Lock()
	track, err := d.sess.Catalog().Random(d.rng)
	d.mutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("pick track: %w", err)
	}

	if err := to.Load(track); err != nil {
		return nil, fmt.Errorf("load %s: %w", destID, err)
	}
	to.ForceGain(0)
	to.Play()

	now := d.clock.CurrentTime()
	end := now + d.cfg.Window.Seconds()
	to.RampGain(0, 1, now, end)
	from.RampGain(1, 0, now, end)
	from.ToggleEffect(effects.KindSweep)

	epoch := from.Epoch()
	rec := models.Transition{
		ID:         uuid.NewString(),
		From:       current,
		To:         destID,
		TrackTitle: track.Title,
		StartedAt:  time.Now(),
		Outcome:    models.OutcomeStarted,
	}
	d.record(rec)
	d.sched.AfterFunc(d.cfg.Window, func() { d.finish(rec, from, epoch) })

	d.logger.WithFields(logrus.Fields{
		"transition": rec.ID,
		"from":       current,
		"to":         destID,
		"title":      track.Title,
	}).Info("Transition started")
	return &rec, nil
}

// finish is the deferred stop of the outgoing deck.
func (d *Director) finish(rec models.Transition, from *deck.Deck, epoch uint64) {
	rec.Outcome = models.OutcomeCompleted
	if cur := from.Epoch(); cur != epoch {
		rec.Outcome = models.OutcomeStale
		entry := d.logger.WithFields(logrus.Fields{
			"transition": rec.ID,
			"deck":       from.ID(),
			"armed":      epoch,
			"current":    cur,
		})
		if d.cfg.GuardDeferredStop {
			entry.Warn("RaceOnDeferredStop: deck changed during crossfade, stop skipped")
			d.complete(rec)
			return
		}
		entry.Warn("RaceOnDeferredStop: deck changed during crossfade, stopping anyway")
	}
	from.Stop()
	d.complete(rec)
}

func (d *Director) record(rec models.Transition) {
	if d.history != nil {
		if err := d.history.RecordTransition(rec); err != nil {
			d.logger.WithError(err).Warn("Failed to record transition")
		}
	}
	if d.observer != nil {
		d.observer.TransitionChanged(rec)
	}
}

func (d *Director) complete(rec models.Transition) {
	now := time.Now()
	rec.FinishedAt = &now
	if d.history != nil {
		if err := d.history.FinishTransition(rec.ID, rec.Outcome, now); err != nil {
			d.logger.WithError(err).Warn("Failed to finish transition record")
		}
	}
	if d.observer != nil {
		d.observer.TransitionChanged(rec)
	}
}
