package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/observability"
	"github.com/NexusGateway/server/internal/payments"
	"github.com/NexusGateway/server/internal/quotes"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/internal/storage"
)

// writeSubmissionError maps an ingestion failure onto the error
// contract. Structural refusals carry the line-annotated reasons and
// the audit reference; anything else is a store failure, reported as
// retryable without leaking the cause.
func (h *handlers) writeSubmissionError(w http.ResponseWriter, r *http.Request, mt iso20022.MessageType, err error) {
	var verr *payments.ValidationError
	if errors.As(err, &verr) {
		h.hooks.EmitValidationFailed(r.Context(), observability.ValidationFailedEvent{
			Timestamp:   time.Now().UTC(),
			MessageType: string(mt),
			Kind:        validationKind(verr.Result.ErrorKind),
			Reference:   verr.Reference,
			ErrorCount:  len(verr.Result.Errors),
		})

		code := apierrors.ErrCodeXSDValidationFailed
		msg := "document failed schema validation"
		switch verr.Result.ErrorKind {
		case iso20022.ErrKindXMLParse:
			code = apierrors.ErrCodeBadXML
			msg = "request body is not well-formed XML"
		case iso20022.ErrKindSchemaNotLoaded:
			code = apierrors.ErrCodeSchemaNotLoaded
			msg = "no schema is loaded for " + string(mt)
		}

		reasons := make([]string, 0, len(verr.Result.Errors))
		for _, issue := range verr.Result.Errors {
			reasons = append(reasons, issue.String())
		}
		apierrors.NewErrorResponse(code, msg, nil).
			WithValidationErrors(reasons).
			WithReference(verr.Reference).
			WriteJSON(w)
		return
	}

	log := logger.FromContext(r.Context())
	log.Error().Err(err).
		Str("messageType", string(mt)).
		Msg("httpserver: submission failed")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeDBUnavailable,
		"the message could not be recorded, retry shortly")
}

// writeQuoteError maps quote service failures onto the error contract.
// Invariant violations return a deliberately generic 500; the figures
// stay in the logs.
func writeQuoteError(w http.ResponseWriter, r *http.Request, err error) {
	var inv *quotes.InvariantError
	switch {
	case errors.Is(err, quotes.ErrInvalidQuoteID):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidQuoteID, err.Error())
	case errors.Is(err, quotes.ErrQuoteNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeQuoteNotFound, err.Error())
	case errors.Is(err, quotes.ErrQuoteExpired):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeQuoteExpired, err.Error())
	case errors.Is(err, quotes.ErrInvalidRequest), errors.Is(err, quotes.ErrCorridorUnavailable):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, err.Error())
	case errors.As(err, &inv):
		log := logger.FromContext(r.Context())
		log.Error().
			Str("quoteId", inv.QuoteID).
			Int("violations", len(inv.Violations)).
			Msg("httpserver: quote invariant violation")
		apierrors.WriteInternalError(w)
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Msg("httpserver: quote operation failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDBUnavailable,
			"quote store unavailable, retry shortly")
	}
}

// writeActorError maps registry service failures onto the error contract.
func writeActorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrActorNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeActorNotFound, "actor not found")
	case errors.Is(err, registry.ErrInvalidURL):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidURL, err.Error())
	case errors.Is(err, registry.ErrInvalidRequest), errors.Is(err, registry.ErrNoCallbackURL):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Msg("httpserver: registry operation failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDBUnavailable,
			"participant registry unavailable, retry shortly")
	}
}

// writeStoreError distinguishes an absent payment from a store outage
// on the audit read paths.
func writeStoreError(w http.ResponseWriter, r *http.Request, uetr string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound,
			"no payment recorded under "+uetr)
		return
	}
	log := logger.FromContext(r.Context())
	log.Error().Err(err).
		Str("uetr", uetr).
		Msg("httpserver: audit read failed")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeDBUnavailable,
		"audit store unavailable, retry shortly")
}

// emitProcessed reports a successful ingestion to registered hooks.
func (h *handlers) emitProcessed(r *http.Request, mt iso20022.MessageType, ack payments.Ack, start time.Time) {
	h.hooks.EmitMessageProcessed(r.Context(), observability.MessageProcessedEvent{
		Timestamp:   time.Now().UTC(),
		MessageType: string(mt),
		UETR:        ack.UETR,
		Outcome:     strings.ToLower(ack.Status),
		Duration:    time.Since(start),
	})
}

// validationKind folds the result's error kind into the hook
// vocabulary.
func validationKind(errorKind string) string {
	switch errorKind {
	case iso20022.ErrKindXMLParse:
		return "xml_parse"
	case iso20022.ErrKindXSDValidation:
		return "xsd_validation"
	default:
		return strings.ToLower(errorKind)
	}
}
