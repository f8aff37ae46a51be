// Package server is the HTTP control surface: deck transport, effects,
// director control, the console event stream and WebRTC monitoring.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"crossdeck/internal/auth"
	"crossdeck/internal/config"
	"crossdeck/internal/console"
	"crossdeck/internal/director"
	"crossdeck/internal/engine"
	"crossdeck/internal/session"
	"crossdeck/pkg/models"
)

// Store is the persistent state the control surface reads
type Store interface {
	GetAllTracks() ([]models.LibraryEntry, error)
	RecentTransitions(limit int) ([]models.Transition, error)
}

// Acquirer fetches remote tracks into the catalog
type Acquirer interface {
	AcquireURL(ctx context.Context, rawURL string) (int, *models.Track, error)
}

// Streamer answers WebRTC offers for the master mix
type Streamer interface {
	Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	PeerCount() int
}

// Tunnel reports the public URL of the control surface, if any
type Tunnel interface {
	GetPublicURL() string
}

// Deps are the components the control surface drives
type Deps struct {
	Session  *session.Session
	Director *director.Director
	Engine   *engine.Context
	Hub      *console.Hub
	Store    Store
	Acquirer Acquirer
	Operator *auth.Operator
	Streamer Streamer // nil when streaming is disabled
	Tunnel   Tunnel   // nil when no tunnel is configured
}

// ControlServer represents the HTTP control surface
type ControlServer struct {
	Deps
	config *config.Config
	logger *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewControlServer creates a new control server instance
func NewControlServer(cfg *config.Config, deps Deps, logger *logrus.Logger) *ControlServer {
	if deps.Operator == nil {
		deps.Operator, _ = auth.NewOperator(&config.ServerConfig{})
	}
	return &ControlServer{
		Deps:   deps,
		config: cfg,
		logger: logger.WithField("component", "server"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handler returns the routed handler with middleware applied
func (cs *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	cs.setupRoutes(mux)

	var h http.Handler = mux
	h = cs.corsMiddleware(h)
	h = cs.requestLoggingMiddleware(h)
	h = cs.panicRecoveryMiddleware(h)
	return h
}

func (cs *ControlServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", cs.handleHealthCheck)

	// Decks
	mux.HandleFunc("GET /api/decks", cs.handleGetDecks)
	mux.HandleFunc("GET /api/decks/{id}", cs.handleGetDeck)
	mux.HandleFunc("GET /api/decks/{id}/spectrum", cs.handleGetSpectrum)
	mux.Handle("POST /api/decks/{id}/load", cs.protect(cs.handleLoad))
	mux.Handle("POST /api/decks/{id}/play", cs.protect(cs.handlePlay))
	mux.Handle("POST /api/decks/{id}/stop", cs.protect(cs.handleStop))
	mux.Handle("POST /api/decks/{id}/toggle", cs.protect(cs.handleToggle))
	mux.Handle("POST /api/decks/{id}/volume", cs.protect(cs.handleVolume))
	mux.Handle("POST /api/decks/{id}/effect", cs.protect(cs.handleEffect))
	mux.Handle("POST /api/decks/{id}/bus", cs.protect(cs.handleBus))

	// Catalog and library index
	mux.HandleFunc("GET /api/catalog", cs.handleGetCatalog)
	mux.HandleFunc("GET /api/library", cs.handleGetLibrary)

	// Director
	mux.HandleFunc("GET /api/director", cs.handleGetDirector)
	mux.Handle("POST /api/director", cs.protect(cs.handleSetDirector))
	mux.Handle("POST /api/director/transition", cs.protect(cs.handleTriggerTransition))
	mux.HandleFunc("GET /api/transitions", cs.handleGetTransitions)

	// Live
	mux.HandleFunc("GET /api/events", cs.handleEvents)
	mux.HandleFunc("GET /api/ws", cs.handleEventsWS)
	mux.HandleFunc("POST /api/stream/webrtc", cs.handleWebRTCOffer)
}

// Run serves until ctx is done, then shuts down gracefully
func (cs *ControlServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:        cs.config.GetAddress(),
		Handler:     cs.Handler(),
		ReadTimeout: time.Duration(cs.config.Server.ReadTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		cs.logger.WithField("address", fmt.Sprintf("http://%s", cs.config.GetAddress())).Info("Control surface listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	cs.logger.Info("Shutting down control surface")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (cs *ControlServer) random() *rand.Rand {
	cs.rngMu.Lock()
	defer cs.rngMu.Unlock()
	return rand.New(rand.NewSource(cs.rng.Int63()))
}
