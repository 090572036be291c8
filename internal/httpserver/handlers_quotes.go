package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/money"
	"github.com/NexusGateway/server/internal/observability"
	"github.com/NexusGateway/server/internal/quotes"
	"github.com/NexusGateway/server/pkg/responders"
)

// createQuote prices a corridor into a bindable quote.
func (h *handlers) createQuote(w http.ResponseWriter, r *http.Request) {
	var req quotes.CreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
			"request body is not a valid quote request: "+err.Error())
		return
	}

	quote, err := h.quotes.CreateQuote(r.Context(), req)
	if err != nil {
		writeQuoteError(w, r, err)
		return
	}

	h.hooks.EmitQuoteCreated(r.Context(), observability.QuoteCreatedEvent{
		Timestamp:           time.Now().UTC(),
		QuoteID:             quote.ID,
		FXP:                 quote.FXPID,
		SourceCurrency:      quote.SourceCurrency,
		DestinationCurrency: quote.DestinationCurrency,
	})
	responders.JSON(w, http.StatusCreated, quote)
}

// getQuote returns a stored quote, distinguishing absent from expired.
func (h *handlers) getQuote(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quoteId")

	quote, err := h.quotes.Lookup(r.Context(), quoteID)
	if err != nil {
		h.emitQuoteLookupFailure(r, quoteID, err)
		writeQuoteError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, quote)
}

// quoteIntermediaryAgents lists the settlement accounts a payment bound
// to the quote would route through.
func (h *handlers) quoteIntermediaryAgents(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quoteId")

	agents, err := h.quotes.IntermediaryAgents(r.Context(), quoteID)
	if err != nil {
		h.emitQuoteLookupFailure(r, quoteID, err)
		writeQuoteError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"quoteId":            quoteID,
		"intermediaryAgents": agents,
	})
}

// preTransactionDisclosure returns the sender-facing cost breakdown for
// a quote under a source PSP fee model.
func (h *handlers) preTransactionDisclosure(w http.ResponseWriter, r *http.Request) {
	quoteID := r.URL.Query().Get("quote_id")
	if quoteID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
			"quote_id query parameter is required")
		return
	}
	feeType := money.SourceFeeType(r.URL.Query().Get("source_psp_fee_type"))

	disclosure, err := h.quotes.Disclose(r.Context(), quoteID, feeType)
	if err != nil {
		h.emitQuoteLookupFailure(r, quoteID, err)
		writeQuoteError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, disclosure)
}

// emitQuoteLookupFailure reports expired-quote references to hooks; all
// other lookup failures stay in the logs and metrics.
func (h *handlers) emitQuoteLookupFailure(r *http.Request, quoteID string, err error) {
	if !errors.Is(err, quotes.ErrQuoteExpired) {
		return
	}
	h.hooks.EmitQuoteExpired(r.Context(), observability.QuoteExpiredEvent{
		Timestamp: time.Now().UTC(),
		QuoteID:   quoteID,
	})
}
