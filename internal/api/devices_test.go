package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

type mockDeviceStore struct {
	devices map[string]model.Device
}

func newMockDeviceStore() *mockDeviceStore {
	return &mockDeviceStore{devices: make(map[string]model.Device)}
}

func (m *mockDeviceStore) ListDevices(_ context.Context) ([]model.Device, error) {
	var out []model.Device
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDeviceStore) GetDevice(_ context.Context, deviceID string) (model.Device, error) {
	d, ok := m.devices[deviceID]
	if !ok {
		return model.Device{}, database.ErrNotFound
	}
	return d, nil
}

func (m *mockDeviceStore) UpsertDevice(_ context.Context, deviceID, name, deviceType string) error {
	if deviceType == "" {
		deviceType = model.DefaultDeviceType
	}
	d, ok := m.devices[deviceID]
	if !ok {
		d = model.Device{DeviceID: deviceID}
	}
	if name != "" {
		d.Name = name
	}
	d.DeviceType = deviceType
	m.devices[deviceID] = d
	return nil
}

func (m *mockDeviceStore) UpdateDevice(_ context.Context, deviceID, name, deviceType string) error {
	d, ok := m.devices[deviceID]
	if !ok {
		return database.ErrNotFound
	}
	if name != "" {
		d.Name = name
	}
	if deviceType != "" {
		d.DeviceType = deviceType
	}
	m.devices[deviceID] = d
	return nil
}

func devicesRouter(m *mockDeviceStore) *chi.Mux {
	r := chi.NewRouter()
	NewDevicesHandler(m).Routes(r)
	return r
}

func TestCreateDevice(t *testing.T) {
	t.Run("created_with_default_type", func(t *testing.T) {
		store := newMockDeviceStore()
		r := devicesRouter(store)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/devices",
			strings.NewReader(`{"device_id":"dev-1","name":"Chest strap"}`))
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		got := store.devices["dev-1"]
		if got.DeviceType != model.DefaultDeviceType {
			t.Errorf("device_type = %q, want %q", got.DeviceType, model.DefaultDeviceType)
		}
	})

	t.Run("missing_device_id_rejected", func(t *testing.T) {
		r := devicesRouter(newMockDeviceStore())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/devices",
			strings.NewReader(`{"name":"no id"}`))
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestUpdateDevice(t *testing.T) {
	store := newMockDeviceStore()
	store.devices["dev-1"] = model.Device{DeviceID: "dev-1", DeviceType: model.DefaultDeviceType}
	r := devicesRouter(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/devices/dev-1",
		strings.NewReader(`{"name":"Renamed"}`))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if store.devices["dev-1"].Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", store.devices["dev-1"].Name)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("PATCH", "/devices/ghost",
		strings.NewReader(`{"name":"x"}`))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}
