package director

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossdeck/internal/deck"
	"crossdeck/internal/engine"
	"crossdeck/internal/session"
	"crossdeck/pkg/models"
)

type fakeTask struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTask) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu    sync.Mutex
	after []*fakeTask
	every []*fakeTask
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{d: d, f: f}
	s.after = append(s.after, t)
	return t
}

func (s *fakeScheduler) Every(d time.Duration, f func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{d: d, f: f}
	s.every = append(s.every, t)
	return t
}

// fireAfter runs every pending one-shot task.
func (s *fakeScheduler) fireAfter() {
	s.mu.Lock()
	tasks := s.after
	s.after = nil
	s.mu.Unlock()
	for _, t := range tasks {
		if !t.stopped {
			t.f()
		}
	}
}

type fakeLog struct {
	mu       sync.Mutex
	started  []models.Transition
	outcomes map[string]string
}

func (l *fakeLog) RecordTransition(t models.Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, t)
	return nil
}

func (l *fakeLog) FinishTransition(id, outcome string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outcomes == nil {
		l.outcomes = make(map[string]string)
	}
	l.outcomes[id] = outcome
	return nil
}

type fixture struct {
	ctx   *engine.Context
	sess  *session.Session
	sched *fakeScheduler
	log   *fakeLog
	dir   *Director
}

func newFixture(t *testing.T, cfg Config, tracks ...string) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	f := &fixture{
		ctx:   engine.NewContext(engine.WithDispatcher(func(fn func()) { fn() })),
		sess:  session.NewSession(),
		sched: &fakeScheduler{},
		log:   &fakeLog{},
	}
	for _, id := range models.Channels {
		require.NoError(t, f.sess.AddDeck(deck.New(id, f.ctx, f.sess, deck.WithLogger(logger))))
	}
	for _, title := range tracks {
		f.sess.Catalog().Append(testTrack(title))
	}
	f.dir = New(cfg, f.sess, f.ctx,
		WithScheduler(f.sched),
		WithRand(rand.New(rand.NewSource(1))),
		WithTransitionLog(f.log),
		WithLogger(logger),
	)
	for _, d := range f.sess.Decks() {
		d.SetEndHandler(f.dir.NotifyEnd)
	}
	return f
}

func (f *fixture) deck(id models.ChannelID) *deck.Deck {
	d, _ := f.sess.Deck(id)
	return d
}

func testTrack(title string) *models.Track {
	buf := engine.NewBuffer(2, engine.DefaultSampleRate*10, engine.DefaultSampleRate)
	return &models.Track{ID: title, Title: title, Buffer: buf, Duration: buf.Duration()}
}

func TestSuccessorCycle(t *testing.T) {
	assert.Equal(t, models.ChannelB, Successor(models.ChannelA))
	assert.Equal(t, models.ChannelC, Successor(models.ChannelB))
	assert.Equal(t, models.ChannelD, Successor(models.ChannelC))
	assert.Equal(t, models.ChannelA, Successor(models.ChannelD))

	id := models.ChannelA
	for i := 0; i < 4; i++ {
		id = Successor(id)
	}
	assert.Equal(t, models.ChannelA, id)
}

func TestEnableStartsFirstTrackOnDefaultDeck(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "only")

	f.dir.Enable()
	assert.True(t, f.sess.DirectorEnabled())
	assert.Equal(t, Scanning, f.dir.State())
	require.Len(t, f.sched.every, 1)
	assert.Equal(t, time.Second, f.sched.every[0].d)

	a := f.deck(models.ChannelA)
	assert.Equal(t, deck.Playing, a.State())
	assert.Equal(t, "only", a.Track().Title)

	// enabling twice does not start a second scan
	f.dir.Enable()
	assert.Len(t, f.sched.every, 1)
}

func TestEnableWithEmptyCatalogStaysSilent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.dir.Enable()
	assert.Nil(t, f.sess.Lead())
}

func TestEnableKeepsPlayingDeck(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "first", "second")
	c := f.deck(models.ChannelC)
	require.NoError(t, c.Load(testTrack("manual")))
	c.Play()

	f.dir.Enable()
	assert.Equal(t, deck.Idle, f.deck(models.ChannelA).State())
	assert.Equal(t, "manual", c.Track().Title)
}

func TestNilLoggerKeepsDefault(t *testing.T) {
	sess := session.NewSession()
	d := New(DefaultConfig(), sess, engine.NewContext(), WithScheduler(&fakeScheduler{}), WithLogger(nil))
	require.NotNil(t, d.logger)
	assert.NotPanics(t, func() {
		d.Enable()
		d.Disable()
	})
}

func TestDisableCancelsScan(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.dir.Enable()
	f.dir.Disable()

	assert.False(t, f.sess.DirectorEnabled())
	assert.Equal(t, Off, f.dir.State())
	assert.True(t, f.sched.every[0].stopped)
	assert.Equal(t, "off", f.dir.Status().State)
}

func TestTransitionWithEmptyCatalogChangesNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.deck(models.ChannelA), f.deck(models.ChannelB)
	require.NoError(t, a.Load(testTrack("outside")))
	a.Play()

	rec, err := f.dir.TriggerTransition(models.ChannelA)
	assert.ErrorIs(t, err, session.ErrEmptyCatalog)
	assert.Nil(t, rec)

	assert.Equal(t, deck.Playing, a.State())
	assert.Equal(t, deck.Idle, b.State())
	assert.False(t, a.EffectActive())
	assert.InDelta(t, 1, a.GainAt(5), 1e-9)
	assert.Empty(t, f.sched.after)
	assert.Empty(t, f.log.started)
}

func TestTransitionCrossfade(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "x", "y")
	a, b := f.deck(models.ChannelA), f.deck(models.ChannelB)
	require.NoError(t, a.Load(testTrack("lead")))
	a.Play()

	rec, err := f.dir.TriggerTransition(models.ChannelA)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelA, rec.From)
	assert.Equal(t, models.ChannelB, rec.To)
	assert.NotEmpty(t, rec.ID)

	assert.Equal(t, deck.Playing, b.State())
	assert.Contains(t, []string{"x", "y"}, b.Track().Title)

	assert.InDelta(t, 1, a.GainAt(0), 1e-9)
	assert.InDelta(t, 0, b.GainAt(0), 1e-9)
	assert.InDelta(t, 0.5, a.GainAt(2.5), 1e-9)
	assert.InDelta(t, 0.5, b.GainAt(2.5), 1e-9)
	assert.InDelta(t, 0, a.GainAt(5), 1e-9)
	assert.InDelta(t, 1, b.GainAt(5), 1e-9)
	assert.True(t, a.EffectActive(), "outgoing deck gets the filter sweep")

	// the outgoing deck is stopped only when the window elapses
	require.Len(t, f.sched.after, 1)
	assert.Equal(t, 5*time.Second, f.sched.after[0].d)
	assert.Equal(t, deck.Playing, a.State())

	f.sched.fireAfter()
	assert.Equal(t, deck.Loaded, a.State())
	assert.Equal(t, deck.Playing, b.State())

	require.Len(t, f.log.started, 1)
	assert.Equal(t, models.OutcomeCompleted, f.log.outcomes[rec.ID])
}

func TestDeferredStopRace(t *testing.T) {
	tests := []struct {
		name        string
		guard       bool
		wantState   deck.State
		wantOutcome string
	}{
		{"guarded", true, deck.Playing, models.OutcomeStale},
		{"unguarded", false, deck.Loaded, models.OutcomeStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GuardDeferredStop = tt.guard
			f := newFixture(t, cfg, "x")
			a := f.deck(models.ChannelA)
			require.NoError(t, a.Load(testTrack("lead")))
			a.Play()

			rec, err := f.dir.TriggerTransition(models.ChannelA)
			require.NoError(t, err)

			// an operator reloads the outgoing deck during the crossfade
			require.NoError(t, a.Load(testTrack("operator")))
			a.Play()

			f.sched.fireAfter()
			assert.Equal(t, tt.wantState, a.State())
			assert.Equal(t, tt.wantOutcome, f.log.outcomes[rec.ID])
		})
	}
}

func TestTickProbability(t *testing.T) {
	t.Run("never", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Probability = 0
		f := newFixture(t, cfg, "x")
		f.dir.Enable()
		for i := 0; i < 50; i++ {
			f.sched.every[0].f()
		}
		assert.Empty(t, f.log.started)
	})

	t.Run("always", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Probability = 1
		f := newFixture(t, cfg, "x")
		f.dir.Enable()
		f.sched.every[0].f()

		require.Len(t, f.log.started, 1)
		assert.Equal(t, models.ChannelA, f.log.started[0].From)
		assert.Equal(t, deck.Playing, f.deck(models.ChannelB).State())
	})

	t.Run("disabled flag", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Probability = 1
		f := newFixture(t, cfg, "x")
		f.dir.Enable()
		f.sess.SetDirectorEnabled(false)
		f.sched.every[0].f()
		assert.Empty(t, f.log.started)
	})
}

func TestTickWithoutPlayingDeckIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = 1
	f := newFixture(t, cfg)
	f.dir.Enable()
	f.sess.Catalog().Append(testTrack("late"))

	f.sched.every[0].f()
	assert.Empty(t, f.log.started)
}

func TestNotifyEndFallsBackToTransition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = 0
	f := newFixture(t, cfg, "x")
	f.sess.SetDirectorEnabled(true)

	d := f.deck(models.ChannelC)
	require.NoError(t, d.Load(&models.Track{
		ID:     "short",
		Title:  "short",
		Buffer: engine.NewBuffer(2, 100, engine.DefaultSampleRate),
	}))
	d.Play()

	// the natural end reaches the director through the deck's end handler
	f.ctx.Render(make([]float32, 512*engine.Channels))

	require.Len(t, f.log.started, 1)
	assert.Equal(t, models.ChannelC, f.log.started[0].From)
	assert.Equal(t, deck.Playing, f.deck(models.ChannelD).State())
}

func TestNotifyEndIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "x")
	f.dir.NotifyEnd(models.ChannelA)
	assert.Empty(t, f.log.started)
}

func TestTransitionUnknownDeck(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "x")
	_, err := f.dir.TriggerTransition("Z")
	assert.ErrorIs(t, err, ErrUnknownDeck)
}

func TestWallClockEvery(t *testing.T) {
	var mu sync.Mutex
	n := 0
	task := WallClock{}.Every(5*time.Millisecond, func() {
		mu.Lock()
		n++
		mu.Unlock()
	})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n >= 2
	}, time.Second, time.Millisecond)
	assert.True(t, task.Stop())
	assert.False(t, task.Stop())
}
