package apikey

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func protected() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareOpenWhenKeyUnset(t *testing.T) {
	handler := Middleware(Config{})(protected())

	req := httptest.NewRequest("GET", "/admin/callbacks/failed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with no key configured, got %d", rec.Code)
	}
}

func TestMiddlewareAcceptsMatchingKey(t *testing.T) {
	handler := Middleware(Config{APIKey: "admin-secret-4401"})(protected())

	req := httptest.NewRequest("GET", "/admin/callbacks/failed", nil)
	req.Header.Set(Header, "admin-secret-4401")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with matching key, got %d", rec.Code)
	}
}

func TestMiddlewareTrimsWhitespace(t *testing.T) {
	handler := Middleware(Config{APIKey: "admin-secret-4401"})(protected())

	req := httptest.NewRequest("GET", "/admin/callbacks/failed", nil)
	req.Header.Set(Header, "  admin-secret-4401  ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with padded key, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsBadKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing header", ""},
		{"wrong key", "not-the-key"},
		{"prefix of key", "admin-secret"},
		{"key with suffix", "admin-secret-4401-extra"},
	}

	handler := Middleware(Config{APIKey: "admin-secret-4401"})(protected())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/callbacks/failed", nil)
			if tt.key != "" {
				req.Header.Set(Header, tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}

			var body struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if body.Error != "UNAUTHORIZED" {
				t.Errorf("expected error code UNAUTHORIZED, got %q", body.Error)
			}
		})
	}
}
