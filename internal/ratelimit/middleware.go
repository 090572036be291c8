// Package ratelimit guards the ingress surface with sliding-window
// request limits. Counters are keyed by client IP plus the first path
// segment, so a participant hammering one endpoint does not starve its
// own traffic to the others.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/metrics"
)

// Config holds rate limiting configuration. The window is one minute;
// the effective default limit is RequestsPerMinute plus Burst.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int

	// Per-route overrides, applied instead of the default limit.
	QuotesPerMinute int
	HealthPerMinute int

	// PathPrefix is stripped before the first segment is read, so a
	// gateway mounted under a route prefix keys the same way as one
	// mounted at the root.
	PathPrefix string

	Metrics *metrics.Metrics
}

// FromConfig derives the middleware configuration from the loaded
// application config.
func FromConfig(cfg *config.Config, m *metrics.Metrics) Config {
	return Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		QuotesPerMinute:   cfg.RateLimit.QuotesPerMinute,
		HealthPerMinute:   cfg.RateLimit.HealthPerMinute,
		PathPrefix:        cfg.Server.RoutePrefix,
		Metrics:           m,
	}
}

// exempt paths never hit a counter: operational probes and static
// documentation must stay reachable when a client is throttled.
func exemptSegment(segment string) bool {
	switch segment {
	case "metrics", "docs", "openapi.json", ".well-known":
		return true
	}
	return false
}

// Middleware returns the ingress limiter. A disabled config returns a
// passthrough so the router wiring stays unconditional.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	window := time.Minute
	limiterFor := func(limit int, route string) func(http.Handler) http.Handler {
		return httprate.Limit(
			limit,
			window,
			httprate.WithKeyFuncs(segmentKey(cfg.PathPrefix)),
			httprate.WithLimitHandler(limitExceeded(route, cfg.Metrics)),
		)
	}

	standard := limiterFor(cfg.RequestsPerMinute+cfg.Burst, "default")
	quotes := limiterFor(cfg.QuotesPerMinute, "quotes")
	health := limiterFor(cfg.HealthPerMinute, "health")

	return func(next http.Handler) http.Handler {
		standardNext := standard(next)
		quotesNext := quotes(next)
		healthNext := health(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch seg := firstSegment(cfg.PathPrefix, r.URL.Path); {
			case exemptSegment(seg):
				next.ServeHTTP(w, r)
			case seg == "quotes":
				quotesNext.ServeHTTP(w, r)
			case seg == "health":
				healthNext.ServeHTTP(w, r)
			default:
				standardNext.ServeHTTP(w, r)
			}
		})
	}
}

// segmentKey builds the counter key: client IP plus first path segment.
func segmentKey(prefix string) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		ip, err := httprate.KeyByIP(r)
		if err != nil {
			return "", err
		}
		return ip + "|" + firstSegment(prefix, r.URL.Path), nil
	}
}

// limitExceeded writes the throttling response. httprate has already
// set the X-RateLimit-* counters on the response at this point.
func limitExceeded(route string, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(route)
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
		errors.WriteSimpleError(w, errors.ErrCodeRateLimitExceeded,
			"request rate exceeds the configured limit, retry after the window resets")
	}
}

func firstSegment(prefix, path string) string {
	if prefix != "" {
		path = strings.TrimPrefix(path, prefix)
	}
	path = strings.TrimPrefix(path, "/")
	if seg, rest, found := strings.Cut(path, "/"); isVersionSegment(seg) {
		if !found {
			return ""
		}
		path = rest
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

// isVersionSegment reports whether the segment is an API version
// mount, "v" followed by digits. Version mounts do not count toward
// the route key, so /v1/quotes and /v2/quotes share a counter.
func isVersionSegment(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for i := 1; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}
