package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

type techniqueStore interface {
	ListTechniques(ctx context.Context, appOnly bool) ([]model.Technique, error)
	GetTechnique(ctx context.Context, name string) (model.Technique, error)
	CreateTechnique(ctx context.Context, t model.Technique) error
	UpdateTechnique(ctx context.Context, name string, p database.TechniquePatch) error
	DeleteTechnique(ctx context.Context, name string) error
}

type TechniquesHandler struct {
	db techniqueStore
}

func NewTechniquesHandler(db techniqueStore) *TechniquesHandler {
	return &TechniquesHandler{db: db}
}

// ListTechniques returns the active techniques. ?app_only=true narrows
// to those shown in the companion app.
func (h *TechniquesHandler) ListTechniques(w http.ResponseWriter, r *http.Request) {
	appOnly, _ := QueryBool(r, "app_only")
	techniques, err := h.db.ListTechniques(r.Context(), appOnly)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list techniques")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"techniques": techniques,
		"total":      len(techniques),
	})
}

// GetTechnique returns one technique by name.
func (h *TechniquesHandler) GetTechnique(w http.ResponseWriter, r *http.Request) {
	name, err := PathString(r, "name")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid technique name")
		return
	}
	t, err := h.db.GetTechnique(r.Context(), name)
	if err != nil {
		WriteError(w, http.StatusNotFound, "technique not found")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// CreateTechnique stores a technique, reviving a soft-deleted one with
// the same name.
func (h *TechniquesHandler) CreateTechnique(w http.ResponseWriter, r *http.Request) {
	var t model.Technique
	if err := DecodeJSON(r, &t); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := t.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.ParamVersion == "" {
		t.ParamVersion = model.DefaultParamVersion
	}

	if err := h.db.CreateTechnique(r.Context(), t); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to store technique")
		return
	}

	stored, err := h.db.GetTechnique(r.Context(), t.Name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load stored technique")
		return
	}
	WriteJSON(w, http.StatusCreated, stored)
}

// UpdateTechnique patches an active technique. A replacement protocol
// must still validate.
func (h *TechniquesHandler) UpdateTechnique(w http.ResponseWriter, r *http.Request) {
	name, err := PathString(r, "name")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid technique name")
		return
	}

	var patch struct {
		Description  *string             `json:"description"`
		ParamVersion *string             `json:"param_version"`
		ShowInApp    *bool               `json:"show_in_app"`
		Protocol     []model.ProtocolRow `json:"protocol"`
	}
	if err := DecodeJSON(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.Protocol != nil {
		probe := model.Technique{Name: name, Protocol: patch.Protocol}
		if err := probe.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	err = h.db.UpdateTechnique(r.Context(), name, database.TechniquePatch{
		Description:  patch.Description,
		ParamVersion: patch.ParamVersion,
		ShowInApp:    patch.ShowInApp,
		Protocol:     patch.Protocol,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "technique not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to update technique")
		return
	}

	updated, err := h.db.GetTechnique(r.Context(), name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load updated technique")
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

// DeleteTechnique soft-deletes a technique so historical sessions keep
// their reference.
func (h *TechniquesHandler) DeleteTechnique(w http.ResponseWriter, r *http.Request) {
	name, err := PathString(r, "name")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid technique name")
		return
	}
	if err := h.db.DeleteTechnique(r.Context(), name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "technique not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete technique")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TechniquesHandler) Routes(r chi.Router) {
	r.Get("/techniques", h.ListTechniques)
	r.Post("/techniques", h.CreateTechnique)
	r.Get("/techniques/{name}", h.GetTechnique)
	r.Patch("/techniques/{name}", h.UpdateTechnique)
	r.Delete("/techniques/{name}", h.DeleteTechnique)
}
