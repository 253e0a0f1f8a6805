package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth(t *testing.T) {
	t.Run("no_token_configured_passes_through", func(t *testing.T) {
		h := BearerAuth("")(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("missing_token_rejected", func(t *testing.T) {
		h := BearerAuth("secret")(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong_token_rejected", func(t *testing.T) {
		h := BearerAuth("secret")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Authorization", "Bearer nope")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("header_token_accepted", func(t *testing.T) {
		h := BearerAuth("secret")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Authorization", "Bearer secret")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("query_token_accepted_for_sse", func(t *testing.T) {
		h := BearerAuth("secret")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/stream?token=secret", nil)
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("wildcard_allows_all", func(t *testing.T) {
		h := CORS("*")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Origin", "https://app.example.org")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("allow-origin = %q, want *", got)
		}
	})

	t.Run("listed_origin_echoed", func(t *testing.T) {
		h := CORS("https://app.example.org, https://other.example.org")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Origin", "https://app.example.org")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.org" {
			t.Errorf("allow-origin = %q, want echoed origin", got)
		}
	})

	t.Run("unlisted_origin_not_allowed", func(t *testing.T) {
		h := CORS("https://app.example.org")(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Origin", "https://evil.example.org")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("allow-origin = %q, want empty", got)
		}
	})

	t.Run("preflight_answered_directly", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
		h := CORS("*")(next)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("OPTIONS", "/x", nil)
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if called {
			t.Error("preflight reached the next handler")
		}
	})
}

func TestRequestID(t *testing.T) {
	t.Run("generates_when_absent", func(t *testing.T) {
		h := RequestID(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("expected generated request id")
		}
	})

	t.Run("preserves_client_id", func(t *testing.T) {
		h := RequestID(okHandler())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("X-Request-ID", "abc123")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
			t.Errorf("request id = %q, want abc123", got)
		}
	})
}
