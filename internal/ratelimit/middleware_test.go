package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := Middleware(Config{Enabled: false})(okHandler())

	for i := 0; i < 50; i++ {
		w := doRequest(handler, "/iso20022/pacs008", "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestMiddlewareEnforcesDefaultLimit(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 2,
		Burst:             1,
		QuotesPerMinute:   60,
		HealthPerMinute:   300,
	}
	handler := Middleware(cfg)(okHandler())

	for i := 0; i < 3; i++ {
		w := doRequest(handler, "/iso20022/pacs008", "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") == "" {
			t.Errorf("request %d: expected X-RateLimit-Limit header", i)
		}
	}

	w := doRequest(handler, "/iso20022/pacs008", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit exceeded, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on throttled response")
	}

	var body struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal throttled body: %v", err)
	}
	if body.Error != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("expected error code RATE_LIMIT_EXCEEDED, got %q", body.Error)
	}
	if !body.Retryable {
		t.Error("expected throttled response to be marked retryable")
	}
}

func TestMiddlewareKeysByClientIP(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             0,
		QuotesPerMinute:   60,
		HealthPerMinute:   300,
	}
	handler := Middleware(cfg)(okHandler())

	if w := doRequest(handler, "/iso20022/pacs008", "203.0.113.10:4410"); w.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", w.Code)
	}
	if w := doRequest(handler, "/iso20022/pacs008", "203.0.113.10:4410"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second request: expected 429, got %d", w.Code)
	}

	// A different client keeps its own counter.
	if w := doRequest(handler, "/iso20022/pacs008", "203.0.113.99:4410"); w.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", w.Code)
	}
}

func TestMiddlewareKeysByPathSegment(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             0,
		QuotesPerMinute:   60,
		HealthPerMinute:   300,
	}
	handler := Middleware(cfg)(okHandler())

	if w := doRequest(handler, "/iso20022/pacs008", ""); w.Code != http.StatusOK {
		t.Fatalf("iso20022: expected 200, got %d", w.Code)
	}
	if w := doRequest(handler, "/iso20022/pacs002", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("iso20022 again: expected 429, got %d", w.Code)
	}

	// Same client, different first segment: separate counter.
	if w := doRequest(handler, "/actors", ""); w.Code != http.StatusOK {
		t.Fatalf("actors: expected 200, got %d", w.Code)
	}
}

func TestMiddlewareQuotesOverride(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 100,
		Burst:             20,
		QuotesPerMinute:   1,
		HealthPerMinute:   300,
	}
	handler := Middleware(cfg)(okHandler())

	if w := doRequest(handler, "/quotes", ""); w.Code != http.StatusOK {
		t.Fatalf("first quote request: expected 200, got %d", w.Code)
	}
	if w := doRequest(handler, "/quotes", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second quote request: expected 429, got %d", w.Code)
	}

	// Quote traffic does not consume the default bucket.
	if w := doRequest(handler, "/iso20022/pacs008", ""); w.Code != http.StatusOK {
		t.Fatalf("ingestion after quote throttle: expected 200, got %d", w.Code)
	}
}

func TestMiddlewareHealthOverride(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             0,
		QuotesPerMinute:   1,
		HealthPerMinute:   5,
	}
	handler := Middleware(cfg)(okHandler())

	for i := 0; i < 5; i++ {
		if w := doRequest(handler, "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("health probe %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := doRequest(handler, "/health", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("health probe above limit: expected 429, got %d", w.Code)
	}
}

func TestMiddlewareExemptPaths(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             0,
		QuotesPerMinute:   1,
		HealthPerMinute:   1,
	}
	handler := Middleware(cfg)(okHandler())

	for _, path := range []string{"/metrics", "/docs", "/openapi.json", "/.well-known/nexus-gateway"} {
		for i := 0; i < 10; i++ {
			if w := doRequest(handler, path, ""); w.Code != http.StatusOK {
				t.Fatalf("%s request %d: expected 200, got %d", path, i, w.Code)
			}
		}
	}
}

func TestMiddlewareStripsRoutePrefix(t *testing.T) {
	cfg := Config{
		Enabled:           true,
		RequestsPerMinute: 100,
		Burst:             20,
		QuotesPerMinute:   1,
		HealthPerMinute:   300,
		PathPrefix:        "/gateway",
	}
	handler := Middleware(cfg)(okHandler())

	if w := doRequest(handler, "/gateway/quotes", ""); w.Code != http.StatusOK {
		t.Fatalf("first prefixed quote request: expected 200, got %d", w.Code)
	}
	if w := doRequest(handler, "/gateway/quotes", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second prefixed quote request: expected 429, got %d", w.Code)
	}
	if w := doRequest(handler, "/gateway/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("prefixed metrics: expected 200, got %d", w.Code)
	}
}

func TestFirstSegment(t *testing.T) {
	cases := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "/quotes", "quotes"},
		{"", "/iso20022/pacs008", "iso20022"},
		{"", "/", ""},
		{"", "/v1/quotes", "quotes"},
		{"", "/v1", ""},
		{"", "/versions", "versions"},
		{"/gateway", "/gateway/quotes", "quotes"},
		{"/gateway", "/gateway/v1/iso20022/pacs008", "iso20022"},
		{"", "/.well-known/nexus-gateway", ".well-known"},
	}
	for _, tc := range cases {
		if got := firstSegment(tc.prefix, tc.path); got != tc.want {
			t.Errorf("firstSegment(%q, %q) = %q, want %q", tc.prefix, tc.path, got, tc.want)
		}
	}
}
