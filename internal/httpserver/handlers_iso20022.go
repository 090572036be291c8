package httpserver

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/pkg/responders"
)

// submitPaymentInstruction ingests a pacs.008 credit transfer. The
// optional pacs002Endpoint query parameter overrides the instructing
// agent's registered callback URL for this submission only.
func (h *handlers) submitPaymentInstruction(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}
	endpoint := r.URL.Query().Get("pacs002Endpoint")
	if !validCallbackEndpoint(endpoint) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidURL,
			"pacs002Endpoint must be an absolute http or https URL")
		return
	}

	start := time.Now()
	ack, err := h.payments.SubmitPaymentInstruction(r.Context(), raw, endpoint)
	if err != nil {
		h.writeSubmissionError(w, r, iso20022.MsgPacs008, err)
		return
	}
	h.emitProcessed(r, iso20022.MsgPacs008, ack, start)
	responders.JSON(w, http.StatusOK, ack)
}

// submitStatusReport ingests a pacs.002 for a payment this gateway
// originated, advancing its state and relaying onward when registered.
func (h *handlers) submitStatusReport(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	start := time.Now()
	ack, err := h.payments.SubmitStatusReport(r.Context(), raw)
	if err != nil {
		h.writeSubmissionError(w, r, iso20022.MsgPacs002, err)
		return
	}
	h.emitProcessed(r, iso20022.MsgPacs002, ack, start)
	responders.JSON(w, http.StatusOK, ack)
}

// submitProxyRequest ingests an acmt.023 proxy resolution request. The
// acmt024Endpoint query parameter names where the matching report
// should be relayed.
func (h *handlers) submitProxyRequest(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}
	endpoint := r.URL.Query().Get("acmt024Endpoint")
	if !validCallbackEndpoint(endpoint) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidURL,
			"acmt024Endpoint must be an absolute http or https URL")
		return
	}

	start := time.Now()
	ack, err := h.payments.SubmitProxyRequest(r.Context(), raw, endpoint)
	if err != nil {
		h.writeSubmissionError(w, r, iso20022.MsgAcmt023, err)
		return
	}
	h.emitProcessed(r, iso20022.MsgAcmt023, ack, start)
	responders.JSON(w, http.StatusOK, ack)
}

// submitProxyReport ingests an acmt.024 verification report, closing
// the conversation opened by the matching acmt.023.
func (h *handlers) submitProxyReport(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	start := time.Now()
	ack, err := h.payments.SubmitProxyReport(r.Context(), raw)
	if err != nil {
		h.writeSubmissionError(w, r, iso20022.MsgAcmt024, err)
		return
	}
	h.emitProcessed(r, iso20022.MsgAcmt024, ack, start)
	responders.JSON(w, http.StatusOK, ack)
}

// submitMessage builds the handler for one of the accept-and-log
// families: validate, store, acknowledge.
func (h *handlers) submitMessage(mt iso20022.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := h.readBody(w, r)
		if !ok {
			return
		}

		start := time.Now()
		ack, err := h.payments.SubmitMessage(r.Context(), raw, mt)
		if err != nil {
			h.writeSubmissionError(w, r, mt, err)
			return
		}
		h.emitProcessed(r, mt, ack, start)
		responders.JSON(w, http.StatusOK, ack)
	}
}

// validateDocument runs schema validation without ingesting. The
// response is always 200 with the structured result; an invalid
// document is a successful validation run, not an error.
func (h *handlers) validateDocument(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var hint iso20022.MessageType
	if param := r.URL.Query().Get("messageType"); param != "" {
		hint = iso20022.TypeFromHint(param)
		if hint == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"messageType "+strconv.Quote(param)+" is not a supported family")
			return
		}
	}

	result := h.payments.ValidateDocument(raw, hint)
	responders.JSON(w, http.StatusOK, result)
}

// validCallbackEndpoint accepts an empty override or an absolute
// http(s) URL. Relative references and exotic schemes are refused
// before the service sees them.
func validCallbackEndpoint(endpoint string) bool {
	if endpoint == "" {
		return true
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
