// Package idempotency replays cached responses for JSON POST endpoints
// when a client resends the same Idempotency-Key. ISO 20022 ingestion
// does not use it; duplicate instructions are caught by UETR and
// payload digest in the dedup package instead.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	apierrors "github.com/NexusGateway/server/internal/errors"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"

	// ReplayHeader marks a response served from the cache.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is how long a cached response stays replayable.
	DefaultTTL = 24 * time.Hour
)

// responseWriter captures status, headers, and body so a successful
// response can be cached after it has been written to the client.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

// Middleware replays cached responses for requests that repeat an
// Idempotency-Key. Keys are scoped by method and path, so the same key
// on two endpoints never collides, and each cached response remembers a
// digest of the body that produced it: resending the key with a
// different payload is a conflict, not a replay. Only 2xx responses are
// cached; a failed request may be retried with the same key.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey
			digest, ok := fingerprintBody(r)
			if !ok {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
					"request body could not be read")
				return
			}

			if cached, found := store.Get(r.Context(), key); found {
				if cached.RequestDigest != digest {
					apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyKeyReuse,
						"Idempotency-Key was already used with a different request body")
					return
				}
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()
				store.Set(r.Context(), key, &Response{
					StatusCode:    rw.statusCode,
					Headers:       rw.headers,
					Body:          rw.body.Bytes(),
					RequestDigest: digest,
					CachedAt:      time.Now(),
				}, ttl)
			}
		})
	}
}

// fingerprintBody hashes the request body and restores it for the next
// handler. An absent body hashes to the empty-input digest, so GETs and
// empty POSTs still fingerprint consistently.
func fingerprintBody(r *http.Request) (string, bool) {
	if r.Body == nil {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:]), true
	}
	payload, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return "", false
	}
	r.Body = io.NopCloser(bytes.NewReader(payload))
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), true
}
