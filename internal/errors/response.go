package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error body returned to clients.
// Validation failures carry the per-line reasons in ValidationErrors and,
// when a transaction reference was recoverable from the payload, Reference
// names the audit key the failure was recorded under.
type ErrorResponse struct {
	Error            ErrorCode              `json:"error"`
	Message          string                 `json:"message,omitempty"`
	Retryable        bool                   `json:"retryable"`
	ValidationErrors []string               `json:"validationErrors,omitempty"`
	Reference        string                 `json:"reference,omitempty"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Error:     code,
		Message:   message,
		Retryable: code.IsRetryable(),
		Details:   details,
	}
}

// WithValidationErrors attaches per-line validation reasons.
func (e ErrorResponse) WithValidationErrors(reasons []string) ErrorResponse {
	e.ValidationErrors = reasons
	return e
}

// WithReference attaches the audit reference (UETR or placeholder) the
// failure was recorded under.
func (e ErrorResponse) WithReference(ref string) ErrorResponse {
	e.Reference = ref
	return e
}

// WriteJSON writes the error response as JSON to the HTTP response writer.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	status := e.Error.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	resp := NewErrorResponse(code, message, details)
	resp.WriteJSON(w)
}

// WriteSimpleError writes an error with no additional details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// WriteInternalError writes a generic 500 without leaking the cause.
// Invariant violations take this path: the figures live in the logs only.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, ErrCodeInternalError, "internal error", nil)
}
