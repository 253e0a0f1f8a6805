package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

type paramStore interface {
	ListParameterSets(ctx context.Context) ([]model.ParameterSet, error)
	GetParameterSet(ctx context.Context, version string) (model.ParameterSet, error)
	CreateParameterSet(ctx context.Context, p model.ParameterSet) error
}

type ParamsHandler struct {
	db paramStore
}

func NewParamsHandler(db paramStore) *ParamsHandler {
	return &ParamsHandler{db: db}
}

// ListParameterSets returns every stored estimator snapshot.
func (h *ParamsHandler) ListParameterSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.db.ListParameterSets(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list parameter sets")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"parameter_sets": sets,
		"total":          len(sets),
	})
}

// GetParameterSet returns one snapshot by version.
func (h *ParamsHandler) GetParameterSet(w http.ResponseWriter, r *http.Request) {
	version, err := PathString(r, "version")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid parameter set version")
		return
	}
	p, err := h.db.GetParameterSet(r.Context(), version)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "parameter set not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load parameter set")
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// CreateParameterSet stores a new snapshot. Versions are immutable, so
// posting an existing version returns the stored one unchanged.
func (h *ParamsHandler) CreateParameterSet(w http.ResponseWriter, r *http.Request) {
	var p model.ParameterSet
	if err := DecodeJSON(r, &p); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Version == "" {
		WriteError(w, http.StatusBadRequest, "version is required")
		return
	}

	if err := h.db.CreateParameterSet(r.Context(), p); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to store parameter set")
		return
	}

	stored, err := h.db.GetParameterSet(r.Context(), p.Version)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load stored parameter set")
		return
	}
	WriteJSON(w, http.StatusCreated, stored)
}

func (h *ParamsHandler) Routes(r chi.Router) {
	r.Get("/parameter-sets", h.ListParameterSets)
	r.Post("/parameter-sets", h.CreateParameterSet)
	r.Get("/parameter-sets/{version}", h.GetParameterSet)
}
