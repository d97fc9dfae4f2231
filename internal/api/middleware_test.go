package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	t.Run("generates_id", func(t *testing.T) {
		w := httptest.NewRecorder()
		RequestID(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		if id := w.Header().Get("X-Request-ID"); len(id) != 16 {
			t.Errorf("X-Request-ID = %q, want 16 hex chars", id)
		}
	})

	t.Run("preserves_client_id", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Request-ID", "client-supplied")
		w := httptest.NewRecorder()
		RequestID(okHandler()).ServeHTTP(w, r)
		if id := w.Header().Get("X-Request-ID"); id != "client-supplied" {
			t.Errorf("X-Request-ID = %q, want client-supplied", id)
		}
	})
}

func TestRecoverer(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := Logger(zerolog.Nop())(Recoverer(panicky))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if body := w.Body.String(); body != `{"error":"internal server error"}` {
		t.Errorf("body = %q", body)
	}
}

func TestCORS(t *testing.T) {
	t.Run("sets_headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		CORS(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("preflight_short_circuits", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
		w := httptest.NewRecorder()
		CORS(next).ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
		if called {
			t.Error("next handler called on preflight")
		}
	})
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		authHeader string
		query      string
		wantStatus int
	}{
		{"disabled_passes", "", "", "", http.StatusOK},
		{"valid_header", "s3cret", "Bearer s3cret", "", http.StatusOK},
		{"valid_query_token", "s3cret", "", "?token=s3cret", http.StatusOK},
		{"wrong_token", "s3cret", "Bearer nope", "", http.StatusUnauthorized},
		{"missing_token", "s3cret", "", "", http.StatusUnauthorized},
		{"malformed_header", "s3cret", "s3cret", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/security/events"+tt.query, nil)
			if tt.authHeader != "" {
				r.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			BearerAuth(tt.token)(okHandler()).ServeHTTP(w, r)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
