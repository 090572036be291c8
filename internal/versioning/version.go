// Package versioning negotiates the API version for a request and
// carries it through the request context. The gateway currently serves
// a single stable version; the negotiation exists so participants can
// pin a version explicitly before a v2 ever ships.
package versioning

import (
	"context"
	"net/http"
	"strings"
)

// Version represents an API version.
type Version int

const (
	// V1 is the initial API version (current default).
	V1 Version = 1
	// V2 is reserved for future breaking changes.
	V2 Version = 2

	// LatestVersion points to the most recent stable API version.
	LatestVersion = V1

	// DefaultVersion is used when the client does not specify one.
	DefaultVersion = V1
)

// vendorPrefix is the media type prefix for version selection via
// Accept, as in "application/vnd.nexus.v1+json".
const vendorPrefix = "application/vnd.nexus."

// String returns the version as a string such as "v1".
func (v Version) String() string {
	if v <= 0 {
		return "v1"
	}
	return "v" + string(rune('0'+v))
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const versionContextKey contextKey = "api-version"

// FromContext retrieves the API version from the request context.
func FromContext(ctx context.Context) Version {
	if v, ok := ctx.Value(versionContextKey).(Version); ok {
		return v
	}
	return DefaultVersion
}

// WithVersion adds the API version to the context.
func WithVersion(ctx context.Context, version Version) context.Context {
	return context.WithValue(ctx, versionContextKey, version)
}

// Negotiation resolves the requested API version and echoes it back.
// Supported selectors, highest priority first:
//   - X-API-Version: 1
//   - Accept: application/vnd.nexus.v1+json
//   - Accept: application/json; version=1
//
// Anything absent or unparsable resolves to the default version.
func Negotiation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := negotiateVersion(r)

		w.Header().Set("X-API-Version", version.String())
		w.Header().Set("Vary", "Accept, X-API-Version")

		ctx := WithVersion(r.Context(), version)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// negotiateVersion extracts the requested API version from the request.
func negotiateVersion(r *http.Request) Version {
	if versionHeader := r.Header.Get("X-API-Version"); versionHeader != "" {
		if v := parseVersionString(versionHeader); v > 0 {
			return v
		}
	}

	acceptHeader := r.Header.Get("Accept")
	if strings.Contains(acceptHeader, vendorPrefix) {
		parts := strings.Split(acceptHeader, ".")
		for _, part := range parts {
			versionPart := strings.Split(part, "+")[0]
			if strings.HasPrefix(versionPart, "v") || strings.HasPrefix(versionPart, "V") {
				if v := parseVersionString(versionPart); v > 0 {
					return v
				}
			}
		}
	}

	if strings.Contains(acceptHeader, "version=") {
		parts := strings.Split(acceptHeader, "version=")
		if len(parts) > 1 {
			versionStr := strings.TrimSpace(strings.Split(parts[1], ";")[0])
			if v := parseVersionString(versionStr); v > 0 {
				return v
			}
		}
	}

	return DefaultVersion
}

// parseVersionString converts strings like "v1", "1", "V1" to a Version.
func parseVersionString(s string) Version {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "v")

	switch s {
	case "1":
		return V1
	case "2":
		return V2
	default:
		return 0
	}
}
