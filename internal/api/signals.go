package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

type signalStore interface {
	ListSignals(ctx context.Context, f database.SignalFilter) ([]database.StoredSignal, error)
	GetSignal(ctx context.Context, id int64) (database.StoredSignal, error)
	RecentSignals(ctx context.Context, deviceID, signal string, limit int) ([]database.StoredSignal, error)
	RecentHR(ctx context.Context, deviceID string, limit int) ([]database.HRPoint, error)
}

type SignalsHandler struct {
	db signalStore
}

func NewSignalsHandler(db signalStore) *SignalsHandler {
	return &SignalsHandler{db: db}
}

// ListSignals returns stored records newest first, filtered by
// device_id, session_id, signal, from_ts and to_ts.
func (h *SignalsHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.SignalFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryString(r, "device_id"); ok {
		filter.DeviceID = v
	}
	if v, ok := QueryString(r, "session_id"); ok {
		filter.SessionID = v
	}
	if v, ok := QueryString(r, "signal"); ok {
		filter.Signal = v
	}
	if v, ok := QueryInt64(r, "from_ts"); ok {
		filter.FromTS = v
	}
	if v, ok := QueryInt64(r, "to_ts"); ok {
		filter.ToTS = v
	}

	signals, err := h.db.ListSignals(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"total":   len(signals),
		"limit":   p.Limit,
		"offset":  p.Offset,
	})
}

// RecentSignals backfills the newest records of one signal for a
// device, oldest first. The default signal, hr_derived, comes back as
// compact {ts,bpm} points.
func (h *SignalsHandler) RecentSignals(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := QueryString(r, "device_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	limit, _ := QueryInt(r, "limit")

	signal, _ := QueryString(r, "signal")
	if signal == "" || signal == model.SignalHRDerived {
		points, err := h.db.RecentHR(r.Context(), deviceID, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load heart rate")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"device_id": deviceID,
			"signal":    model.SignalHRDerived,
			"points":    points,
			"total":     len(points),
		})
		return
	}

	signals, err := h.db.RecentSignals(r.Context(), deviceID, signal, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load signals")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"signal":    signal,
		"signals":   signals,
		"total":     len(signals),
	})
}

// GetSignal returns one stored record by row id.
func (h *SignalsHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid signal id")
		return
	}
	sig, err := h.db.GetSignal(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "signal not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load signal")
		return
	}
	WriteJSON(w, http.StatusOK, sig)
}

func (h *SignalsHandler) Routes(r chi.Router) {
	r.Get("/signals", h.ListSignals)
	r.Get("/signals/recent", h.RecentSignals)
	r.Get("/signals/{id}", h.GetSignal)
}
