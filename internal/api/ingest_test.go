package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/feedback"
	"github.com/serenalabs/breath-engine/internal/ingest"
	"github.com/serenalabs/breath-engine/internal/model"
	"github.com/serenalabs/breath-engine/internal/session"
	"github.com/serenalabs/breath-engine/internal/stream"
)

// ingestStoreStub is a minimal ingest.Store for transport-level tests.
type ingestStoreStub struct {
	insertErr error
}

func (s *ingestStoreStub) UpsertDevice(context.Context, string, string, string) error { return nil }

func (s *ingestStoreStub) ActiveSession(context.Context, string) (model.Session, error) {
	return model.Session{}, database.ErrNotFound
}

func (s *ingestStoreStub) CreateSession(context.Context, model.Session) error { return nil }

func (s *ingestStoreStub) EndSession(context.Context, string, time.Time, string) error { return nil }

func (s *ingestStoreStub) UpdateSessionTarget(context.Context, string, float64, string) error {
	return nil
}

func (s *ingestStoreStub) AdvanceWatermark(context.Context, string, int64) error { return nil }

func (s *ingestStoreStub) InsertSignal(context.Context, model.SignalRecord) error {
	return s.insertErr
}

func (s *ingestStoreStub) InsertSignals(context.Context, []model.SignalRecord) error {
	return s.insertErr
}

func (s *ingestStoreStub) GetTechnique(context.Context, string) (model.Technique, error) {
	return model.Technique{}, database.ErrNotFound
}

func (s *ingestStoreStub) GetParameterSet(context.Context, string) (model.ParameterSet, error) {
	return model.DefaultParameters(), nil
}

func (s *ingestStoreStub) FeedbackRules(context.Context) (model.FeedbackRules, error) {
	return model.DefaultFeedbackRules(), nil
}

func ingestRouter(t *testing.T, store *ingestStoreStub) *chi.Mux {
	t.Helper()
	hub := stream.NewHub(zerolog.Nop())
	reg := session.NewRegistry()
	fb := feedback.NewGenerator(store, zerolog.Nop())
	svc := ingest.NewService(store, reg, hub, fb, ingest.Options{}, zerolog.Nop())
	t.Cleanup(svc.Close)
	r := chi.NewRouter()
	NewIngestHandler(svc).Routes(r)
	return r
}

func TestIngest(t *testing.T) {
	t.Run("accepts_a_record", func(t *testing.T) {
		r := ingestRouter(t, &ingestStoreStub{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/ingest",
			strings.NewReader(`{"signal":"marker","device_id":"H10A","ts":1700000000000}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Accepted  int     `json:"accepted"`
			SessionID *string `json:"session_id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Accepted != 1 {
			t.Errorf("accepted = %d, want 1", body.Accepted)
		}
		if body.SessionID != nil {
			t.Errorf("session_id = %v, want null outside a session", *body.SessionID)
		}
	})

	t.Run("malformed_body_returns_400", func(t *testing.T) {
		r := ingestRouter(t, &ingestStoreStub{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/ingest", strings.NewReader("{broken"))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("storage_failure_returns_500", func(t *testing.T) {
		r := ingestRouter(t, &ingestStoreStub{insertErr: errors.New("connection refused")})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/ingest",
			strings.NewReader(`{"signal":"marker","device_id":"H10A","ts":1700000000000}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500 on a storage failure", rec.Code)
		}
	})
}
