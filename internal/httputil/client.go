// Package httputil configures the outbound HTTP clients used for
// callback delivery.
package httputil

import (
	"net/http"
	"time"
)

// NewClient builds an outbound client with the given per-request timeout.
// Pooling is tuned for callback fan-out: deliveries hit a small set of
// PSP endpoints repeatedly, so idle connections per host stay warm across
// retry and queue poll cycles.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
