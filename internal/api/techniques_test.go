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

// mockTechniqueStore implements techniqueStore for testing.
type mockTechniqueStore struct {
	techniques map[string]model.Technique
	appOnly    bool
}

func newMockTechniqueStore() *mockTechniqueStore {
	return &mockTechniqueStore{techniques: make(map[string]model.Technique)}
}

func (m *mockTechniqueStore) ListTechniques(_ context.Context, appOnly bool) ([]model.Technique, error) {
	m.appOnly = appOnly
	var out []model.Technique
	for _, t := range m.techniques {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTechniqueStore) GetTechnique(_ context.Context, name string) (model.Technique, error) {
	t, ok := m.techniques[name]
	if !ok {
		return model.Technique{}, database.ErrNotFound
	}
	return t, nil
}

func (m *mockTechniqueStore) CreateTechnique(_ context.Context, t model.Technique) error {
	t.IsActive = true
	m.techniques[t.Name] = t
	return nil
}

func (m *mockTechniqueStore) UpdateTechnique(_ context.Context, name string, p database.TechniquePatch) error {
	t, ok := m.techniques[name]
	if !ok {
		return database.ErrNotFound
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ParamVersion != nil {
		t.ParamVersion = *p.ParamVersion
	}
	if p.ShowInApp != nil {
		t.ShowInApp = *p.ShowInApp
	}
	if p.Protocol != nil {
		t.Protocol = p.Protocol
	}
	m.techniques[name] = t
	return nil
}

func (m *mockTechniqueStore) DeleteTechnique(_ context.Context, name string) error {
	if _, ok := m.techniques[name]; !ok {
		return database.ErrNotFound
	}
	delete(m.techniques, name)
	return nil
}

func techniquesRouter(m *mockTechniqueStore) *chi.Mux {
	r := chi.NewRouter()
	NewTechniquesHandler(m).Routes(r)
	return r
}

func TestCreateTechnique(t *testing.T) {
	t.Run("valid_protocol_created", func(t *testing.T) {
		store := newMockTechniqueStore()
		r := techniquesRouter(store)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/techniques",
			strings.NewReader(`{"name":"Box (4-4-4-4)","protocol":[[4,4,4,4,0]]}`))
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		stored := store.techniques["Box (4-4-4-4)"]
		if stored.ParamVersion != model.DefaultParamVersion {
			t.Errorf("param_version = %q, want default", stored.ParamVersion)
		}
	})

	t.Run("empty_protocol_rejected", func(t *testing.T) {
		r := techniquesRouter(newMockTechniqueStore())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/techniques",
			strings.NewReader(`{"name":"Empty","protocol":[]}`))
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("zero_sum_protocol_rejected", func(t *testing.T) {
		r := techniquesRouter(newMockTechniqueStore())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/techniques",
			strings.NewReader(`{"name":"Null","protocol":[[0,0,0,0,5]]}`))
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestUpdateTechnique(t *testing.T) {
	t.Run("patch_updates_only_sent_fields", func(t *testing.T) {
		store := newMockTechniqueStore()
		store.techniques["Coherent"] = model.Technique{
			Name:         "Coherent",
			Description:  "six breaths per minute",
			ParamVersion: "v1_default",
			Protocol:     []model.ProtocolRow{{5, 0, 5, 0, 0}},
		}
		r := techniquesRouter(store)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/techniques/Coherent",
			strings.NewReader(`{"show_in_app":true}`))
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		got := store.techniques["Coherent"]
		if !got.ShowInApp {
			t.Error("show_in_app not updated")
		}
		if got.Description != "six breaths per minute" {
			t.Errorf("description changed to %q", got.Description)
		}
	})

	t.Run("invalid_replacement_protocol_rejected", func(t *testing.T) {
		store := newMockTechniqueStore()
		store.techniques["Coherent"] = model.Technique{
			Name:     "Coherent",
			Protocol: []model.ProtocolRow{{5, 0, 5, 0, 0}},
		}
		r := techniquesRouter(store)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/techniques/Coherent",
			strings.NewReader(`{"protocol":[[0,0,0,0,3]]}`))
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown_technique_404", func(t *testing.T) {
		r := techniquesRouter(newMockTechniqueStore())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/techniques/Nope",
			strings.NewReader(`{"show_in_app":true}`))
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeleteTechnique(t *testing.T) {
	store := newMockTechniqueStore()
	store.techniques["Box (4-4-4-4)"] = model.Technique{Name: "Box (4-4-4-4)"}
	r := techniquesRouter(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/techniques/Box%20(4-4-4-4)", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/techniques/Box%20(4-4-4-4)", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestListTechniquesAppOnly(t *testing.T) {
	store := newMockTechniqueStore()
	r := techniquesRouter(store)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/techniques?app_only=true", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !store.appOnly {
		t.Error("app_only flag not passed to the store")
	}
}
