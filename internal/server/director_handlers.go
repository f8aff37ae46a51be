package server

import (
	"errors"
	"net/http"
	"strconv"

	"crossdeck/internal/director"
	"crossdeck/pkg/models"
)

// defaultTransitionLimit is how many transitions GET /api/transitions returns
const defaultTransitionLimit = 20

// handleGetDirector returns the director's state and policy
func (cs *ControlServer) handleGetDirector(w http.ResponseWriter, r *http.Request) {
	cs.respondJSON(w, http.StatusOK, cs.Director.Status())
}

// DirectorRequest switches the director on or off
type DirectorRequest struct {
	Enabled *bool `json:"enabled"`
}

func (cs *ControlServer) handleSetDirector(w http.ResponseWriter, r *http.Request) {
	var req DirectorRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	if req.Enabled == nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
			Field:   "enabled",
			Message: "enabled is required",
			Code:    "MISSING_ENABLED",
		})
		return
	}
	if *req.Enabled {
		cs.Director.Enable()
	} else {
		cs.Director.Disable()
	}
	cs.respondJSON(w, http.StatusOK, cs.Director.Status())
}

// TransitionRequest starts a crossfade from a deck; empty means the lead deck
type TransitionRequest struct {
	From string `json:"from,omitempty"`
}

func (cs *ControlServer) handleTriggerTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if verr := decodeBody(r, &req); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}

	var from models.ChannelID
	if req.From != "" {
		id, verr := validateChannel(sanitizeInput(req.From))
		if verr != nil {
			cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
			return
		}
		from = id
	} else {
		lead := cs.Session.Lead()
		if lead == nil {
			cs.respondWithError(w, r, http.StatusConflict, "No deck is playing", nil)
			return
		}
		from = lead.ID()
	}

	rec, err := cs.Director.TriggerTransition(from)
	switch {
	case err == nil:
		cs.respondJSON(w, http.StatusAccepted, rec)
	case isCatalogError(err):
		cs.respondWithError(w, r, http.StatusConflict, "Catalog is empty", err)
	case errors.Is(err, director.ErrUnknownDeck):
		cs.respondWithError(w, r, http.StatusNotFound, "Deck not found", err)
	default:
		cs.respondWithError(w, r, http.StatusInternalServerError, "Transition failed", err)
	}
}

// handleGetTransitions returns the most recent transitions, newest first
func (cs *ControlServer) handleGetTransitions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransitionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
				Field:   "limit",
				Message: "limit must be an integer within [1, 500]",
				Code:    "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}
	if cs.Store == nil {
		cs.respondJSON(w, http.StatusOK, []models.Transition{})
		return
	}
	history, err := cs.Store.RecentTransitions(limit)
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Could not read transitions", err)
		return
	}
	if history == nil {
		history = []models.Transition{}
	}
	cs.respondJSON(w, http.StatusOK, history)
}
