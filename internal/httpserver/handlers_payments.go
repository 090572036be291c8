package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/storage"
	"github.com/NexusGateway/server/pkg/responders"
)

// listPayments returns recent payment records, optionally filtered by
// status. GET /payments?status=ACCEPTED&limit=50
func (h *handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	filter := storage.PaymentFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = storage.Status(status)
		switch filter.Status {
		case storage.StatusReceived, storage.StatusSubmitted, storage.StatusAccepted,
			storage.StatusRejected, storage.StatusReturned, storage.StatusRecalled:
		default:
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"status must be one of RECEIVED, SUBMITTED, ACCEPTED, REJECTED, RETURNED, RECALLED")
			return
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 1000 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"limit must be an integer between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	records, err := h.store.ListPayments(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, "", err)
		return
	}
	if records == nil {
		records = []storage.Payment{}
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"payments": records,
		"count":    len(records),
	})
}

// paymentEvents returns the append-only audit log for one UETR.
func (h *handlers) paymentEvents(w http.ResponseWriter, r *http.Request) {
	uetr := chi.URLParam(r, "uetr")

	events, err := h.store.EventsByUETR(r.Context(), uetr)
	if err != nil {
		writeStoreError(w, r, uetr, err)
		return
	}
	if len(events) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound,
			"no events recorded under "+uetr)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"uetr":   uetr,
		"events": events,
		"count":  len(events),
	})
}

// paymentMessages returns the raw stored ISO documents for one UETR.
// The correlation_id query parameter switches the lookup to a proxy
// resolution conversation instead, where the path UETR is ignored.
func (h *handlers) paymentMessages(w http.ResponseWriter, r *http.Request) {
	uetr := chi.URLParam(r, "uetr")

	if correlationID := r.URL.Query().Get("correlation_id"); correlationID != "" {
		events, err := h.store.EventsByCorrelationID(r.Context(), correlationID)
		if err != nil {
			writeStoreError(w, r, correlationID, err)
			return
		}
		envelopes := make([]storage.MessageEnvelope, 0, len(events))
		for _, ev := range events {
			if len(ev.RawMessage) == 0 {
				continue
			}
			envelopes = append(envelopes, storage.MessageEnvelope{
				EventID:     ev.ID,
				Slot:        ev.Slot,
				MessageType: ev.MessageType,
				ReceivedAt:  ev.CreatedAt,
				Raw:         ev.RawMessage,
			})
		}
		if len(envelopes) == 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound,
				"no messages recorded under correlation id "+correlationID)
			return
		}
		responders.JSON(w, http.StatusOK, map[string]any{
			"correlationId": correlationID,
			"messages":      envelopes,
			"count":         len(envelopes),
		})
		return
	}

	envelopes, err := h.store.MessagesByUETR(r.Context(), uetr)
	if err != nil {
		writeStoreError(w, r, uetr, err)
		return
	}
	if len(envelopes) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound,
			"no messages recorded under "+uetr)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"uetr":     uetr,
		"messages": envelopes,
		"count":    len(envelopes),
	})
}

// paymentStatus returns the latest status snapshot for one UETR.
func (h *handlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	uetr := chi.URLParam(r, "uetr")

	snapshot, err := h.store.LatestStatus(r.Context(), uetr)
	if err != nil {
		writeStoreError(w, r, uetr, err)
		return
	}
	responders.JSON(w, http.StatusOK, snapshot)
}
