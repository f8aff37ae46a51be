package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"crossdeck/internal/deck"
	"crossdeck/internal/effects"
	"crossdeck/pkg/models"
)

// maxBodyBytes bounds JSON request bodies; SDP offers are the largest
const maxBodyBytes = 64 << 10

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as JSON with the given status
func (cs *ControlServer) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cs.logger.WithError(err).Debug("Failed to encode response")
	}
}

// respondWithValidationError sends a structured validation error response
func (cs *ControlServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, status int, errors ...ValidationError) {
	cs.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	cs.respondJSON(w, status, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (cs *ControlServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := cs.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}
	if err != nil && statusCode < 500 {
		response["detail"] = err.Error()
	}
	cs.respondJSON(w, statusCode, response)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) *ValidationError {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON: %v", err),
			Code:    "INVALID_JSON",
		}
	}
	return nil
}

// validateChannel parses a deck channel from the URL path
func validateChannel(raw string) (models.ChannelID, *ValidationError) {
	if raw == "" {
		return "", &ValidationError{
			Field:   "id",
			Message: "Deck ID is required",
			Code:    "MISSING_DECK_ID",
		}
	}
	id, err := models.ParseChannelID(strings.ToUpper(raw))
	if err != nil {
		return "", &ValidationError{
			Field:   "id",
			Message: "Deck ID must be one of A, B, C or D",
			Code:    "INVALID_DECK_ID",
		}
	}
	return id, nil
}

// validateIndex checks a catalog index against the catalog size
func validateIndex(index, size int) *ValidationError {
	if index < 0 || index >= size {
		return &ValidationError{
			Field:   "index",
			Message: fmt.Sprintf("Index must be within [0, %d)", size),
			Code:    "INDEX_OUT_OF_RANGE",
		}
	}
	return nil
}

// validateURL validates track URLs
func validateURL(urlStr string) *ValidationError {
	if urlStr == "" {
		return &ValidationError{
			Field:   "url",
			Message: "URL is required",
			Code:    "MISSING_URL",
		}
	}

	if len(urlStr) > 2048 {
		return &ValidationError{
			Field:   "url",
			Message: "URL too long (max 2048 characters)",
			Code:    "URL_TOO_LONG",
		}
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Host == "" {
		return &ValidationError{
			Field:   "url",
			Message: "Invalid URL format",
			Code:    "INVALID_URL_FORMAT",
		}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{
			Field:   "url",
			Message: "URL must use HTTP or HTTPS protocol",
			Code:    "INVALID_URL_PROTOCOL",
		}
	}

	return nil
}

// validateLevel checks a volume or mix value
func validateLevel(field string, v *float64) *ValidationError {
	if v == nil {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s is required", field),
			Code:    "MISSING_" + strings.ToUpper(field),
		}
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a finite number", field),
			Code:    "INVALID_" + strings.ToUpper(field),
		}
	}
	return nil
}

// validateToggleKind parses the kind of a filter effect toggle
func validateToggleKind(raw string) (effects.Kind, *ValidationError) {
	kind, err := effects.ParseKind(sanitizeInput(raw))
	if err != nil || kind == effects.KindNone {
		return "", &ValidationError{
			Field:   "kind",
			Message: "Effect kind must be sweep, echo or reverb",
			Code:    "INVALID_EFFECT_KIND",
		}
	}
	return kind, nil
}

// validateBusKind parses the kind of a bus effect; sweep has no subgraph
func validateBusKind(raw string) (effects.Kind, *ValidationError) {
	kind, err := effects.ParseKind(sanitizeInput(raw))
	if err != nil || kind == effects.KindSweep {
		return "", &ValidationError{
			Field:   "effect",
			Message: "Bus effect must be none, echo or reverb",
			Code:    "INVALID_BUS_EFFECT",
		}
	}
	return kind, nil
}

// deckFromPath resolves the {id} path value to a registered deck, writing
// the error response when it cannot.
func (cs *ControlServer) deckFromPath(w http.ResponseWriter, r *http.Request) (*deck.Deck, bool) {
	id, verr := validateChannel(r.PathValue("id"))
	if verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return nil, false
	}
	d, ok := cs.Session.Deck(id)
	if !ok {
		cs.respondWithError(w, r, http.StatusNotFound, "Deck not found", nil)
		return nil, false
	}
	return d, true
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	return input
}
