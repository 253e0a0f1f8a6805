package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

type rulesStore interface {
	FeedbackRules(ctx context.Context) (model.FeedbackRules, error)
	PutFeedbackRules(ctx context.Context, rules model.FeedbackRules) (model.FeedbackRules, error)
}

type RulesHandler struct {
	db rulesStore
}

func NewRulesHandler(db rulesStore) *RulesHandler {
	return &RulesHandler{db: db}
}

// GetRules returns the active guidance rules document.
func (h *RulesHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.db.FeedbackRules(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load feedback rules")
		return
	}
	WriteJSON(w, http.StatusOK, rules)
}

// PutRules replaces the guidance rules document. The generator picks up
// the new version within its cache window.
func (h *RulesHandler) PutRules(w http.ResponseWriter, r *http.Request) {
	var rules model.FeedbackRules
	if err := DecodeJSON(r, &rules); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// every category needs at least one message or the generator has
	// nothing to say
	for _, name := range []string{
		model.CategoryBlue, model.CategoryGreen, model.CategoryOrange,
		model.CategoryRedFast, model.CategoryRedSlow,
	} {
		if cat := rules.Category(name); len(cat.Messages) == 0 {
			WriteError(w, http.StatusBadRequest, "category "+name+" has no messages")
			return
		}
	}

	stored, err := h.db.PutFeedbackRules(r.Context(), rules)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to store feedback rules")
		return
	}
	WriteJSON(w, http.StatusOK, stored)
}

func (h *RulesHandler) Routes(r chi.Router) {
	r.Get("/feedback-rules", h.GetRules)
	r.Put("/feedback-rules", h.PutRules)
}
