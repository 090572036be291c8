// Package responders holds the response writers shared by the gateway's
// HTTP handlers.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON encodes payload as the response body with the given status. A nil
// payload sends the status line and headers only. HTML escaping is off so
// callback endpoint URLs in acknowledgements survive the round trip
// unmangled.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
