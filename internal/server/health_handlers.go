package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Engine    string                 `json:"engine"`
	Clock     float64                `json:"clock"`
	Catalog   int                    `json:"catalogSize"`
	Indexed   int                    `json:"indexedTracks"`
	Director  bool                   `json:"directorEnabled"`
	Monitors  int                    `json:"monitors"`
	PublicURL string                 `json:"publicUrl,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (cs *ControlServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Catalog:   cs.Session.Catalog().Len(),
		Director:  cs.Session.DirectorEnabled(),
		Details:   make(map[string]interface{}),
	}

	if cs.Engine != nil {
		health.Engine = cs.Engine.State().String()
		health.Clock = cs.Engine.CurrentTime()
	}

	// Check database connectivity
	if cs.Store != nil {
		tracks, err := cs.Store.GetAllTracks()
		if err != nil {
			health.Status = "unhealthy"
			health.Database = "error"
			health.Details["database_error"] = err.Error()
		} else {
			health.Indexed = len(tracks)
		}
	} else {
		health.Database = "disabled"
	}

	if cs.Streamer != nil {
		health.Monitors = cs.Streamer.PeerCount()
	}
	if cs.Tunnel != nil {
		health.PublicURL = cs.Tunnel.GetPublicURL()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	cs.respondJSON(w, status, health)
}
