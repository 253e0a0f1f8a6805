package api

import (
	"net/http"
	"time"
)

// RootHandler serves the banner and liveness endpoints that need no
// database round trip.
type RootHandler struct {
	db        healthChecker
	version   string
	startTime time.Time
}

func NewRootHandler(db healthChecker, version string, startTime time.Time) *RootHandler {
	return &RootHandler{db: db, version: version, startTime: startTime}
}

// Banner answers GET / with a one-line service identity.
func (h *RootHandler) Banner(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"service": "breath-engine",
		"version": h.version,
	})
}

// Healthz is the liveness probe.
func (h *RootHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ping answers GET /api/v1/ping.
func (h *RootHandler) Ping(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"pong": true})
}

// Status reports database reachability, version and uptime.
func (h *RootHandler) Status(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.db.HealthCheck(r.Context()); err != nil {
		dbStatus = "error"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]any{
		"database":       dbStatus,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}
