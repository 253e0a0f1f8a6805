package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/model"
	"github.com/serenalabs/breath-engine/internal/stream"
)

// keepaliveInterval is how often an SSE comment line is written so
// proxies do not drop idle connections.
const keepaliveInterval = 15 * time.Second

type StreamHandler struct {
	hub *stream.Hub
}

func NewStreamHandler(hub *stream.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream opens an SSE connection delivering live signal records.
// ?device_id filters to one device (default: every device), ?signals
// takes a comma-separated list of signal types to pass through.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = model.UnknownDevice
	}
	signals := QueryStringList(r, "signals")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(deviceID)
	defer h.hub.Unsubscribe(sub)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("device_id", deviceID).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("device_id", deviceID).Msg("SSE client disconnected")
			return
		case rec, ok := <-sub.C():
			if !ok {
				// evicted by the hub
				return
			}
			if len(signals) > 0 && !stringSliceContains(signals, rec.Signal) {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			metrics.SSEEventsPublishedTotal.Inc()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/stream", h.Stream)
}
