package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apierrors "github.com/NexusGateway/server/internal/errors"
)

// readBody drains the request body, translating the size cap into the
// error contract. The bool reports whether the caller should proceed.
func (h *handlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"request body exceeds the configured size limit")
			return nil, false
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
			"request body could not be read")
		return nil, false
	}
	return raw, true
}

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// getServiceEndpoint derives the externally visible base URL from the
// request, honouring proxy forwarding headers.
func getServiceEndpoint(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}
