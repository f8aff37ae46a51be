package server

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"crossdeck/internal/deck"
	"crossdeck/internal/effects"
	"crossdeck/internal/session"
	"crossdeck/pkg/models"
)

// handleGetDecks returns every deck in channel order
func (cs *ControlServer) handleGetDecks(w http.ResponseWriter, r *http.Request) {
	decks := cs.Session.Decks()
	views := make([]deck.View, 0, len(decks))
	for _, d := range decks {
		views = append(views, d.Snapshot())
	}
	cs.respondJSON(w, http.StatusOK, views)
}

// handleGetDeck returns one deck
func (cs *ControlServer) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// SpectrumResponse carries one analyser frame; bins are empty unless playing
type SpectrumResponse struct {
	ID    models.ChannelID `json:"id"`
	Color string           `json:"color"`
	Bins  []int            `json:"bins"`
}

// handleGetSpectrum returns the deck's current frequency bins
func (cs *ControlServer) handleGetSpectrum(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	raw := d.Spectrum()
	bins := make([]int, len(raw))
	for i, b := range raw {
		bins[i] = int(b)
	}
	cs.respondJSON(w, http.StatusOK, SpectrumResponse{ID: d.ID(), Color: d.Color(), Bins: bins})
}

// LoadRequest selects a catalog entry by index or acquires a URL
type LoadRequest struct {
	Index *int   `json:"index,omitempty"`
	URL   string `json:"url,omitempty"`
}

// handleLoad puts a track on a deck
func (cs *ControlServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}

	var req LoadRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	req.URL = sanitizeInput(req.URL)

	var track *models.Track
	switch {
	case req.Index != nil && req.URL != "":
		cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
			Field:   "body",
			Message: "Provide either index or url, not both",
			Code:    "AMBIGUOUS_SELECTION",
		})
		return

	case req.Index != nil:
		if verr := validateIndex(*req.Index, cs.Session.Catalog().Len()); verr != nil {
			cs.respondWithValidationError(w, r, http.StatusNotFound, *verr)
			return
		}
		t, err := cs.Session.Catalog().At(*req.Index)
		if err != nil {
			cs.respondWithError(w, r, http.StatusNotFound, "Track not found", err)
			return
		}
		track = t

	case req.URL != "":
		if verr := validateURL(req.URL); verr != nil {
			cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
			return
		}
		if cs.Acquirer == nil {
			cs.respondWithError(w, r, http.StatusServiceUnavailable, "Acquisition not available", nil)
			return
		}
		// failures are published to the console by the acquirer
		_, t, err := cs.Acquirer.AcquireURL(r.Context(), req.URL)
		if err != nil {
			cs.respondWithError(w, r, http.StatusUnprocessableEntity, "Could not acquire track", err)
			return
		}
		track = t

	default:
		cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
			Field:   "body",
			Message: "index or url is required",
			Code:    "MISSING_SELECTION",
		})
		return
	}

	if err := d.Load(track); err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Could not load track", err)
		return
	}
	cs.logger.WithFields(logrus.Fields{"deck": d.ID(), "title": track.Title}).Info("Track loaded")
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// handlePlay starts the deck; without a track this is a no-op
func (cs *ControlServer) handlePlay(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	d.Play()
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// handleStop stops the deck; stopping twice is harmless
func (cs *ControlServer) handleStop(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	d.Stop()
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

func (cs *ControlServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	d.TogglePlay()
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// VolumeRequest sets the deck fader
type VolumeRequest struct {
	Level *float64 `json:"level"`
}

// handleVolume moves the fader; the level is clamped to [0, 1]
func (cs *ControlServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	var req VolumeRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	if verr := validateLevel("level", req.Level); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	d.SetVolume(*req.Level)
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// EffectRequest toggles the deck's filter effect
type EffectRequest struct {
	Kind string `json:"kind"`
}

func (cs *ControlServer) handleEffect(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	var req EffectRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	kind, verr := validateToggleKind(req.Kind)
	if verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	d.ToggleEffect(kind)
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// BusRequest mounts an effect on the deck's wet path and/or sets the mix
type BusRequest struct {
	Effect string   `json:"effect,omitempty"`
	Mix    *float64 `json:"mix,omitempty"`
}

func (cs *ControlServer) handleBus(w http.ResponseWriter, r *http.Request) {
	d, ok := cs.deckFromPath(w, r)
	if !ok {
		return
	}
	var req BusRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	if req.Effect == "" && req.Mix == nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
			Field:   "body",
			Message: "effect or mix is required",
			Code:    "MISSING_BUS_CHANGE",
		})
		return
	}

	if req.Effect != "" {
		kind, verr := validateBusKind(req.Effect)
		if verr != nil {
			cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
			return
		}
		if kind != d.BusEffect() {
			d.MountEffect(effects.Create(cs.Engine, kind, cs.random()))
		}
	}
	if req.Mix != nil {
		if verr := validateLevel("mix", req.Mix); verr != nil {
			cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
			return
		}
		d.SetEffectMix(*req.Mix)
	}
	cs.respondJSON(w, http.StatusOK, d.Snapshot())
}

// handleGetCatalog lists the session catalog in index order
func (cs *ControlServer) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	tracks := cs.Session.Catalog().Snapshot()
	infos := make([]models.TrackInfo, 0, len(tracks))
	for i, t := range tracks {
		infos = append(infos, t.Info(i))
	}
	cs.respondJSON(w, http.StatusOK, infos)
}

// handleGetLibrary lists the persistent library index
func (cs *ControlServer) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	if cs.Store == nil {
		cs.respondJSON(w, http.StatusOK, []models.LibraryEntry{})
		return
	}
	entries, err := cs.Store.GetAllTracks()
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Could not read library index", err)
		return
	}
	if entries == nil {
		entries = []models.LibraryEntry{}
	}
	cs.respondJSON(w, http.StatusOK, entries)
}

func isCatalogError(err error) bool {
	return errors.Is(err, session.ErrEmptyCatalog) || errors.Is(err, session.ErrOutOfRange)
}
