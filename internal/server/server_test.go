package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"crossdeck/internal/auth"
	"crossdeck/internal/config"
	"crossdeck/internal/console"
	"crossdeck/internal/database"
	"crossdeck/internal/deck"
	"crossdeck/internal/director"
	"crossdeck/internal/effects"
	"crossdeck/internal/engine"
	"crossdeck/internal/session"
	"crossdeck/pkg/models"
)

type idleTask struct{}

func (idleTask) Stop() bool { return true }

// idleScheduler never fires; transitions stay mid-crossfade
type idleScheduler struct{}

func (idleScheduler) AfterFunc(time.Duration, func()) director.Task { return idleTask{} }
func (idleScheduler) Every(time.Duration, func()) director.Task     { return idleTask{} }

type fakeAcquirer struct {
	catalog *session.Catalog
	err     error
}

func (a *fakeAcquirer) AcquireURL(_ context.Context, rawURL string) (int, *models.Track, error) {
	if a.err != nil {
		return -1, nil, a.err
	}
	t := testTrack("remote")
	return a.catalog.Append(t), t, nil
}

type fakeStreamer struct{}

func (fakeStreamer) Answer(_ context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (fakeStreamer) PeerCount() int { return 1 }

func testTrack(title string) *models.Track {
	buf := engine.NewBuffer(2, engine.DefaultSampleRate, engine.DefaultSampleRate)
	return &models.Track{ID: title, Title: title, Buffer: buf, Duration: buf.Duration()}
}

type testEnv struct {
	cs      *ControlServer
	handler http.Handler
	sess    *session.Session
	hub     *console.Hub
	db      *database.Database
	acq     *fakeAcquirer
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := config.DefaultConfig()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := engine.NewContext(engine.WithDispatcher(func(fn func()) { fn() }))
	sess := session.NewSession()
	hub := console.NewHub()
	for _, id := range models.Channels {
		require.NoError(t, sess.AddDeck(deck.New(id, ctx, sess, deck.WithObserver(hub), deck.WithLogger(logger))))
	}
	sess.Catalog().Append(testTrack("First"))
	sess.Catalog().Append(testTrack("Second"))

	dir := director.New(director.DefaultConfig(), sess, ctx,
		director.WithScheduler(idleScheduler{}),
		director.WithTransitionLog(db),
		director.WithObserver(hub),
		director.WithLogger(logger),
	)

	acq := &fakeAcquirer{catalog: sess.Catalog()}
	deps := Deps{
		Session:  sess,
		Director: dir,
		Engine:   ctx,
		Hub:      hub,
		Store:    db,
		Acquirer: acq,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	cs := NewControlServer(cfg, deps, logger)
	return &testEnv{cs: cs, handler: cs.Handler(), sess: sess, hub: hub, db: db, acq: acq}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) deck.View {
	t.Helper()
	var v deck.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// stateOf reads the state string from a view response
func stateOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	s, _ := raw["state"].(string)
	return s
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 2, h.Catalog)
	assert.Equal(t, "suspended", h.Engine)
	assert.Equal(t, "ok", h.Database)
}

func TestGetDecks(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/decks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 4)
	assert.Equal(t, "A", views[0]["id"])
	assert.Equal(t, "idle", views[0]["state"])

	rec = env.do(t, http.MethodGet, "/api/decks/b", "")
	assert.Equal(t, http.StatusOK, rec.Code, "channel IDs are case-insensitive in paths")

	rec = env.do(t, http.MethodGet, "/api/decks/E", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		title  string
	}{
		{"by index", `{"index": 1}`, http.StatusOK, "Second"},
		{"index out of range", `{"index": 7}`, http.StatusNotFound, ""},
		{"negative index", `{"index": -1}`, http.StatusNotFound, ""},
		{"by url", `{"url": "https://example.test/a.mp3"}`, http.StatusOK, "remote"},
		{"bad url", `{"url": "ftp://example.test/a.mp3"}`, http.StatusBadRequest, ""},
		{"both", `{"index": 0, "url": "https://example.test/a.mp3"}`, http.StatusBadRequest, ""},
		{"neither", `{}`, http.StatusBadRequest, ""},
		{"unknown field", `{"track": 1}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPost, "/api/decks/A/load", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.title != "" {
				v := decodeView(t, rec)
				assert.Equal(t, tt.title, v.Title)
				assert.Equal(t, "loaded", stateOf(t, rec))
			}
		})
	}
}

func TestLoadURLFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.acq.err = errors.New("status 404")

	rec := env.do(t, http.MethodPost, "/api/decks/A/load", `{"url": "https://example.test/missing.mp3"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	d, _ := env.sess.Deck(models.ChannelA)
	assert.Equal(t, deck.Idle, d.State(), "a failed acquisition leaves the deck alone")
}

func TestTransport(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/decks/A/play", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", stateOf(t, rec), "play without a track is a no-op")

	env.do(t, http.MethodPost, "/api/decks/A/load", `{"index": 0}`)
	rec = env.do(t, http.MethodPost, "/api/decks/A/play", "")
	assert.Equal(t, "playing", stateOf(t, rec))

	rec = env.do(t, http.MethodGet, "/api/decks/A/spectrum", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var spectrum SpectrumResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spectrum))
	assert.NotEmpty(t, spectrum.Bins)

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/api/decks/A/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "loaded", stateOf(t, rec))
	}

	rec = env.do(t, http.MethodPost, "/api/decks/A/toggle", "")
	assert.Equal(t, "playing", stateOf(t, rec))

	rec = env.do(t, http.MethodGet, "/api/decks/B/spectrum", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spectrum))
	assert.Empty(t, spectrum.Bins, "no spectrum unless playing")
}

func TestVolume(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/decks/C/volume", `{"level": 1.7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeView(t, rec).Volume)

	rec = env.do(t, http.MethodPost, "/api/decks/C/volume", `{"level": 0.25}`)
	assert.Equal(t, 0.25, decodeView(t, rec).Volume)

	rec = env.do(t, http.MethodPost, "/api/decks/C/volume", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEffectAndBus(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/decks/A/effect", `{"kind": "sweep"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeView(t, rec).EffectActive)

	rec = env.do(t, http.MethodPost, "/api/decks/A/effect", `{"kind": "none"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/decks/A/bus", `{"effect": "echo", "mix": 0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, rec)
	assert.Equal(t, effects.KindEcho, v.BusEffect)
	assert.Equal(t, 0.5, v.EffectMix)

	rec = env.do(t, http.MethodPost, "/api/decks/A/bus", `{"effect": "reverb"}`)
	assert.Equal(t, effects.KindReverb, decodeView(t, rec).BusEffect)

	rec = env.do(t, http.MethodPost, "/api/decks/A/bus", `{"effect": "none"}`)
	assert.Equal(t, effects.KindNone, decodeView(t, rec).BusEffect)

	rec = env.do(t, http.MethodPost, "/api/decks/A/bus", `{"effect": "sweep"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/decks/A/bus", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogAndLibrary(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []models.TrackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[1].Index)
	assert.Equal(t, "Second", infos[1].Title)
	assert.InDelta(t, 1.0, infos[0].Duration, 1e-9)

	rec = env.do(t, http.MethodGet, "/api/library", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDirectorEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/director/transition", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing is playing")

	rec = env.do(t, http.MethodPost, "/api/director", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var st director.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Enabled)
	assert.Equal(t, "scanning", st.State)

	lead := env.sess.Lead()
	require.NotNil(t, lead, "enabling starts the mix from silence")
	assert.Equal(t, models.ChannelA, lead.ID())

	rec = env.do(t, http.MethodPost, "/api/director/transition", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var tr models.Transition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, models.ChannelA, tr.From)
	assert.Equal(t, models.ChannelB, tr.To)

	rec = env.do(t, http.MethodGet, "/api/transitions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Transition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, tr.ID, history[0].ID)

	rec = env.do(t, http.MethodGet, "/api/transitions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/director", `{"enabled": false}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Enabled)

	rec = env.do(t, http.MethodPost, "/api/director", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthProtectsMutations(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	env := newTestEnv(t, func(cfg *config.Config, deps *Deps) {
		cfg.Server.AdminPasswordHash = string(hash)
		op, err := auth.NewOperator(&cfg.Server)
		require.NoError(t, err)
		deps.Operator = op
	})

	rec := env.do(t, http.MethodPost, "/api/decks/A/stop", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/api/decks/A/stop", nil)
	req.SetBasicAuth("operator", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/decks/A/stop", nil)
	req.SetBasicAuth("operator", "pw")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/decks", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodOptions, "/api/decks/A/play", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.cs.panicRecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebRTCOffer(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/stream/webrtc", `{"type": "offer", "sdp": "v=0"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env = newTestEnv(t, func(_ *config.Config, deps *Deps) { deps.Streamer = fakeStreamer{} })
	rec = env.do(t, http.MethodPost, "/api/stream/webrtc", `{"type": "offer", "sdp": "v=0"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"answer"`)

	rec = env.do(t, http.MethodPost, "/api/stream/webrtc", `{"type": "answer", "sdp": "v=0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, reader)
	assert.Equal(t, "snapshot", name)

	env.do(t, http.MethodPost, "/api/decks/B/load", `{"index": 0}`)
	name, data := readEvent(t, reader)
	assert.Equal(t, "title", name)
	assert.Contains(t, data, `"deck":"B"`)
	assert.Contains(t, data, `"title":"First"`)
}

func TestEventWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot wsMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, console.EventKind("snapshot"), snapshot.Kind)
	assert.Len(t, snapshot.Decks, len(models.Channels))

	env.do(t, http.MethodPost, "/api/decks/C/load", `{"index": 1}`)

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, console.EventTitle, msg.Kind)
	require.NotNil(t, msg.Event)
	assert.Equal(t, models.ChannelC, msg.Event.Deck)
	assert.Equal(t, "Second", msg.Event.Title)
}

func readEvent(t *testing.T, r *bufio.Reader) (name, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestValidators(t *testing.T) {
	t.Run("channel", func(t *testing.T) {
		id, verr := validateChannel("d")
		assert.Nil(t, verr)
		assert.Equal(t, models.ChannelD, id)

		_, verr = validateChannel("")
		require.NotNil(t, verr)
		assert.Equal(t, "MISSING_DECK_ID", verr.Code)

		_, verr = validateChannel("AA")
		require.NotNil(t, verr)
		assert.Equal(t, "INVALID_DECK_ID", verr.Code)
	})

	t.Run("url", func(t *testing.T) {
		tests := map[string]string{
			"https://example.test/a.mp3": "",
			"":                           "MISSING_URL",
			"ftp://example.test/a.mp3":   "INVALID_URL_PROTOCOL",
			"http://":                    "INVALID_URL_FORMAT",
			"https://example.test/" + strings.Repeat("a", 2100): "URL_TOO_LONG",
		}
		for in, code := range tests {
			verr := validateURL(in)
			if code == "" {
				assert.Nil(t, verr, in)
			} else if assert.NotNil(t, verr, in) {
				assert.Equal(t, code, verr.Code)
			}
		}
	})

	t.Run("index", func(t *testing.T) {
		assert.Nil(t, validateIndex(0, 1))
		assert.NotNil(t, validateIndex(1, 1))
		assert.NotNil(t, validateIndex(0, 0))
	})

	t.Run("sanitize", func(t *testing.T) {
		assert.Equal(t, "echo", sanitizeInput("  ec\x00ho \n"))
	})
}
