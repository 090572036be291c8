// Package apikey guards the administrative surface with a shared API
// key. The gateway's participant-facing endpoints authenticate by HMAC
// on callbacks instead; only operator routes sit behind this check.
package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/NexusGateway/server/internal/errors"
)

// Header carries the admin key on requests.
const Header = "X-API-Key"

// Config holds the admin credential. An empty key leaves the surface
// open, which is the sandbox default.
type Config struct {
	APIKey string
}

// Middleware enforces the admin API key on every request it wraps.
// The comparison is constant time so the key cannot be probed byte by
// byte through response timing.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(cfg.APIKey))

	if len(key) == 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := []byte(strings.TrimSpace(r.Header.Get(Header)))
			if subtle.ConstantTimeCompare(presented, key) != 1 {
				errors.WriteSimpleError(w, errors.ErrCodeUnauthorized,
					"a valid "+Header+" header is required for this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
