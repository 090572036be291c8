package errors

// ErrorCode is a machine-readable error identifier. The values are part of
// the wire contract and are returned verbatim to API clients.
type ErrorCode string

// Client input errors (structural problems with the request itself)
const (
	// Body was empty, oversized, or not decodable as XML
	ErrCodeBadXML ErrorCode = "BAD_XML"

	// Document parsed but failed schema validation
	ErrCodeXSDValidationFailed ErrorCode = "XSD_VALIDATION_FAILED"

	// Callback or endpoint URL did not satisfy the scheme policy
	ErrCodeInvalidURL ErrorCode = "INVALID_URL"

	// Quote identifier was not a well-formed UUID
	ErrCodeInvalidQuoteID ErrorCode = "INVALID_QUOTE_ID"

	// JSON request failed field validation
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// An Idempotency-Key was resent with a different request body
	ErrCodeIdempotencyKeyReuse ErrorCode = "IDEMPOTENCY_KEY_REUSE"
)

// Quote lifecycle errors
const (
	ErrCodeQuoteNotFound ErrorCode = "QUOTE_NOT_FOUND"
	ErrCodeQuoteExpired  ErrorCode = "QUOTE_EXPIRED"
	ErrCodeRateMismatch  ErrorCode = "RATE_MISMATCH"
)

// Registry and audit lookup errors
const (
	ErrCodeActorNotFound    ErrorCode = "ACTOR_NOT_FOUND"
	ErrCodePaymentNotFound  ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeCallbackNotFound ErrorCode = "CALLBACK_NOT_FOUND"
)

// Invariant and transport errors. INVARIANT_VIOLATION is never detailed to
// clients: the response is a generic 500 and the figures are only logged.
// CALLBACK_DELIVERY_FAILED is recorded as a payment event, not surfaced.
const (
	ErrCodeInvariantViolation     ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeCallbackDeliveryFailed ErrorCode = "CALLBACK_DELIVERY_FAILED"
)

// Infrastructure errors
const (
	ErrCodeDBUnavailable   ErrorCode = "DB_UNAVAILABLE"
	ErrCodeSchemaNotLoaded ErrorCode = "SCHEMA_NOT_LOADED"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Throttling and admin-surface errors
const (
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
)

// IsRetryable returns whether an error code represents a retryable condition.
// Structural and business failures are permanent; only transient
// infrastructure conditions invite a retry.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeDBUnavailable,
		ErrCodeCallbackDeliveryFailed,
		ErrCodeRateLimitExceeded:
		return true

	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - structural problems with the submission
	case ErrCodeBadXML,
		ErrCodeXSDValidationFailed,
		ErrCodeInvalidURL,
		ErrCodeInvalidQuoteID,
		ErrCodeInvalidRequest:
		return 400

	// 401 Unauthorized - admin surface only
	case ErrCodeUnauthorized:
		return 401

	// 404 Not Found - identified entity absent
	case ErrCodeQuoteNotFound,
		ErrCodeActorNotFound,
		ErrCodePaymentNotFound,
		ErrCodeCallbackNotFound:
		return 404

	// 409 Conflict - submission disagrees with bound state
	case ErrCodeRateMismatch,
		ErrCodeIdempotencyKeyReuse:
		return 409

	// 410 Gone - the quote exists but its validity window has passed
	case ErrCodeQuoteExpired:
		return 410

	// 429 Too Many Requests
	case ErrCodeRateLimitExceeded:
		return 429

	// 503 Service Unavailable - store unreachable
	case ErrCodeDBUnavailable:
		return 503

	// 500 Internal Server Error - everything else, including invariant
	// violations, which are deliberately indistinguishable from other
	// internal failures on the wire
	default:
		return 500
	}
}
