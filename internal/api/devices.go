package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

type deviceStore interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDevice(ctx context.Context, deviceID string) (model.Device, error)
	UpsertDevice(ctx context.Context, deviceID, name, deviceType string) error
	UpdateDevice(ctx context.Context, deviceID, name, deviceType string) error
}

type DevicesHandler struct {
	db deviceStore
}

func NewDevicesHandler(db deviceStore) *DevicesHandler {
	return &DevicesHandler{db: db}
}

// ListDevices returns every known device, most recently seen first.
func (h *DevicesHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.db.ListDevices(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

// GetDevice returns one device by id.
func (h *DevicesHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	device, err := h.db.GetDevice(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "device not found")
		return
	}
	WriteJSON(w, http.StatusOK, device)
}

// CreateDevice registers a device ahead of its first record. Devices
// are also auto-created on ingest, so this is idempotent.
func (h *DevicesHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"device_id"`
		Name       string `json:"name"`
		DeviceType string `json:"device_type"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	if err := h.db.UpsertDevice(r.Context(), req.DeviceID, req.Name, req.DeviceType); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to store device")
		return
	}
	device, err := h.db.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load stored device")
		return
	}
	WriteJSON(w, http.StatusCreated, device)
}

// UpdateDevice patches device metadata.
func (h *DevicesHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var patch struct {
		Name       string `json:"name"`
		DeviceType string `json:"device_type"`
	}
	if err := DecodeJSON(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.db.UpdateDevice(r.Context(), id, patch.Name, patch.DeviceType); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "device not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to update device")
		return
	}

	device, err := h.db.GetDevice(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "device not found")
		return
	}
	WriteJSON(w, http.StatusOK, device)
}

func (h *DevicesHandler) Routes(r chi.Router) {
	r.Get("/devices", h.ListDevices)
	r.Post("/devices", h.CreateDevice)
	r.Get("/devices/{id}", h.GetDevice)
	r.Patch("/devices/{id}", h.UpdateDevice)
}
