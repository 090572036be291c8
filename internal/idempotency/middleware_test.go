package idempotency

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newCountingHandler(counter *atomic.Int64, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"call":` + strconv.FormatInt(n, 10) + `}`))
	})
}

func testStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(store.Stop)
	return store
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), time.Hour)(newCountingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/quotes", nil))
		if rec.Header().Get(ReplayHeader) != "" {
			t.Error("replay header set on a keyless request")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestMiddlewareReplaysCachedResponse(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), time.Hour)(newCountingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
	req.Header.Set(HeaderKey, "quote-req-7f2a")
	handler.ServeHTTP(first, req)

	if first.Header().Get(ReplayHeader) != "" {
		t.Error("replay header set on the first request")
	}

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
	req.Header.Set(HeaderKey, "quote-req-7f2a")
	handler.ServeHTTP(second, req)

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Error("replayed response is not marked")
	}
	if second.Code != http.StatusCreated {
		t.Errorf("replayed status = %d, want %d", second.Code, http.StatusCreated)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body = %s, want %s", second.Body.String(), first.Body.String())
	}
	if ct := second.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("replayed Content-Type = %q, want application/json", ct)
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), time.Hour)(newCountingHandler(&calls, http.StatusCreated))

	req := httptest.NewRequest(http.MethodPost, "/v1/quotes",
		strings.NewReader(`{"sourceCurrency":"SGD","destinationCurrency":"THB"}`))
	req.Header.Set(HeaderKey, "quote-req-9b1c")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/v1/quotes",
		strings.NewReader(`{"sourceCurrency":"SGD","destinationCurrency":"IDR"}`))
	req.Header.Set(HeaderKey, "quote-req-9b1c")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if !strings.Contains(rec.Body.String(), "IDEMPOTENCY_KEY_REUSE") {
		t.Errorf("body = %s, want an IDEMPOTENCY_KEY_REUSE error", rec.Body.String())
	}
	if rec.Header().Get(ReplayHeader) != "" {
		t.Error("conflict response must not be marked as a replay")
	}
}

func TestMiddlewareRestoresBodyForHandler(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(payload)
	})
	handler := Middleware(testStore(t), time.Hour)(echo)

	const body = `{"sourceCurrency":"SGD","amount":"1000.00"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(body))
	req.Header.Set(HeaderKey, "echo-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != body {
		t.Errorf("handler saw body %q, want %q", rec.Body.String(), body)
	}

	// Same key, same body: served from cache with the original payload.
	req = httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(body))
	req.Header.Set(HeaderKey, "echo-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(ReplayHeader) != "true" {
		t.Error("matching resubmission was not replayed")
	}
	if rec.Body.String() != body {
		t.Errorf("replayed body = %q, want %q", rec.Body.String(), body)
	}
}

func TestMiddlewareScopesKeysByMethodAndPath(t *testing.T) {
	store := testStore(t)
	var quoteCalls, actorCalls atomic.Int64
	quotesHandler := Middleware(store, time.Hour)(newCountingHandler(&quoteCalls, http.StatusCreated))
	actorsHandler := Middleware(store, time.Hour)(newCountingHandler(&actorCalls, http.StatusCreated))

	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
	req.Header.Set(HeaderKey, "shared-key")
	quotesHandler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/v1/actors", nil)
	req.Header.Set(HeaderKey, "shared-key")
	rec := httptest.NewRecorder()
	actorsHandler.ServeHTTP(rec, req)

	if rec.Header().Get(ReplayHeader) != "" {
		t.Error("key leaked across endpoints")
	}
	if quoteCalls.Load() != 1 || actorCalls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", quoteCalls.Load(), actorCalls.Load())
	}
}

func TestMiddlewareDistinctKeysRunSeparately(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), time.Hour)(newCountingHandler(&calls, http.StatusCreated))

	for _, key := range []string{"key-a", "key-b"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
		req.Header.Set(HeaderKey, key)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestMiddlewareDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), time.Hour)(newCountingHandler(&calls, http.StatusServiceUnavailable))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
		req.Header.Set(HeaderKey, "retry-after-failure")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get(ReplayHeader) != "" {
			t.Error("failed response was replayed")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2: failures must stay retryable", calls.Load())
	}
}

func TestMiddlewareExpiredEntryRunsAgain(t *testing.T) {
	var calls atomic.Int64
	handler := Middleware(testStore(t), 10*time.Millisecond)(newCountingHandler(&calls, http.StatusCreated))

	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
	req.Header.Set(HeaderKey, "short-lived")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	time.Sleep(25 * time.Millisecond)

	req = httptest.NewRequest(http.MethodPost, "/v1/quotes", nil)
	req.Header.Set(HeaderKey, "short-lived")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(ReplayHeader) != "" {
		t.Error("expired entry was replayed")
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}
