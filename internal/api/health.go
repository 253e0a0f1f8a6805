package api

import (
	"context"
	"net/http"
	"time"

	"github.com/serenalabs/breath-engine/internal/ingest"
	"github.com/serenalabs/breath-engine/internal/mqttclient"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	SpoolFiles    *SpoolStats       `json:"spool_files,omitempty"`
}

// SpoolStats reports the spool watcher counters when spooling is
// configured.
type SpoolStats struct {
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
}

type HealthHandler struct {
	db        healthChecker
	mqtt      *mqttclient.Client
	spool     *ingest.SpoolWatcher
	version   string
	startTime time.Time
}

func NewHealthHandler(db healthChecker, mqtt *mqttclient.Client, spool *ingest.SpoolWatcher, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		spool:     spool,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.spool != nil {
		checks["spool_watcher"] = "ok"
		processed, skipped := h.spool.Stats()
		resp.SpoolFiles = &SpoolStats{Processed: processed, Skipped: skipped}
	}

	WriteJSON(w, httpStatus, resp)
}
