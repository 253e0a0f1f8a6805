package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/ingest"
)

type IngestHandler struct {
	svc *ingest.Service
}

func NewIngestHandler(svc *ingest.Service) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// Ingest accepts a single JSON record, a JSON array, or an NDJSON
// stream, depending on Content-Type.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.IngestBody(r.Context(), r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, ingest.ErrStorage) {
			WriteErrorDetail(w, http.StatusInternalServerError, "storage failure", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "ingest failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *IngestHandler) Routes(r chi.Router) {
	r.Post("/ingest", h.Ingest)
}
