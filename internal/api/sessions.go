package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/feedback"
	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/model"
	"github.com/serenalabs/breath-engine/internal/session"
)

type sessionStore interface {
	UpsertDevice(ctx context.Context, deviceID, name, deviceType string) error
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	ListSessions(ctx context.Context, f database.SessionFilter) ([]model.Session, error)
	PatchSession(ctx context.Context, sessionID string, p database.SessionPatch) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, status string) error
}

type SessionsHandler struct {
	db       sessionStore
	registry *session.Registry
	fb       *feedback.Generator

	// onEnd runs after a session is ended through the API, in its own
	// goroutine. Nil disables it.
	onEnd func(sessionID string)

	now   func() time.Time
	newID func() string
}

func NewSessionsHandler(db sessionStore, registry *session.Registry, fb *feedback.Generator, onEnd func(sessionID string)) *SessionsHandler {
	return &SessionsHandler{
		db:       db,
		registry: registry,
		fb:       fb,
		onEnd:    onEnd,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// sessionResponse adds the derived duration to the stored row.
type sessionResponse struct {
	model.Session
	DurationSeconds float64 `json:"duration_seconds"`
}

func toSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{Session: s, DurationSeconds: s.Duration()}
}

// CreateSession starts a session explicitly, outside the BreathTarget
// flow. The device row is created on the fly if it does not exist.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID     string  `json:"device_id"`
		Technique    string  `json:"technique"`
		TargetRR     float64 `json:"target_rr"`
		ParamVersion string  `json:"param_version"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if req.TargetRR <= 0 {
		WriteError(w, http.StatusBadRequest, "target_rr must be positive")
		return
	}
	if req.ParamVersion == "" {
		req.ParamVersion = model.DefaultParamVersion
	}

	if err := h.db.UpsertDevice(r.Context(), req.DeviceID, "", ""); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	sess := model.Session{
		SessionID:     h.newID(),
		DeviceID:      req.DeviceID,
		StartedAt:     h.now(),
		TechniqueName: req.Technique,
		ParamVersion:  req.ParamVersion,
		TargetRR:      req.TargetRR,
		Status:        model.SessionActive,
	}
	if err := h.db.CreateSession(r.Context(), sess); err != nil {
		if errors.Is(err, database.ErrActiveSessionExists) {
			WriteError(w, http.StatusConflict, "device already has an active session")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	metrics.SessionsStarted.Inc()
	WriteJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// GetSession returns one session by id.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// ListSessions returns sessions newest first, optionally filtered by
// device_id, status, and a started_at date range.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.SessionFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryString(r, "device_id"); ok {
		filter.DeviceID = v
	}
	if v, ok := QueryString(r, "status"); ok {
		filter.Status = v
	}
	if filter.From, err = QueryTime(r, "start_date"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = QueryTime(r, "end_date"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.db.ListSessions(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"total":    len(out),
		"limit":    p.Limit,
		"offset":   p.Offset,
	})
}

// PatchSession applies a partial update to a session row.
func (h *SessionsHandler) PatchSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var patch struct {
		Technique *string  `json:"technique"`
		TargetRR  *float64 `json:"target_rr"`
		Status    *string  `json:"status"`
	}
	if err := DecodeJSON(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.db.PatchSession(r.Context(), id, database.SessionPatch{
		TechniqueName: patch.Technique,
		TargetRR:      patch.TargetRR,
		Status:        patch.Status,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	sess, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// EndSession completes a session and clears its in-memory state.
func (h *SessionsHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.db.EndSession(r.Context(), id, h.now(), model.SessionCompleted); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusConflict, "session is not active")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	slot := h.registry.Get(sess.DeviceID)
	slot.EndSession()
	h.fb.Reset(id)
	metrics.SessionsEnded.Inc()
	if h.onEnd != nil {
		go h.onEnd(id)
	}

	ended, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, toSessionResponse(ended))
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)
	r.Patch("/sessions/{id}", h.PatchSession)
	r.Post("/sessions/{id}/end", h.EndSession)
}
