package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/storage"
	"github.com/NexusGateway/server/pkg/responders"
)

// listFailedCallbacks returns parked callback deliveries. The status
// query parameter widens the view to the other queue states.
// GET /admin/callbacks/failed?status=pending&limit=100
func (h *handlers) listFailedCallbacks(w http.ResponseWriter, r *http.Request) {
	status := storage.CallbackStatusFailed
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status = storage.CallbackStatus(statusStr)
		switch status {
		case storage.CallbackStatusPending, storage.CallbackStatusProcessing,
			storage.CallbackStatusFailed, storage.CallbackStatusSuccess:
		default:
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"status must be one of pending, processing, failed, success")
			return
		}
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 1000 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
				"limit must be an integer between 1 and 1000")
			return
		}
		limit = parsed
	}

	callbacks, err := h.queue.List(r.Context(), status, limit)
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	if callbacks == nil {
		callbacks = []storage.QueuedCallback{}
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"callbacks": callbacks,
		"count":     len(callbacks),
	})
}

// getCallback returns one queue entry. GET /admin/callbacks/{id}
func (h *handlers) getCallback(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")

	cb, err := h.queue.Get(r.Context(), callbackID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCallbackNotFound,
				"no queued callback under "+callbackID)
			return
		}
		h.writeQueueError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, cb)
}

// requeueCallback resets a parked entry to pending so the queue worker
// redelivers it. POST /admin/callbacks/{id}/requeue
func (h *handlers) requeueCallback(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")

	if err := h.queue.Requeue(r.Context(), callbackID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCallbackNotFound,
				"no queued callback under "+callbackID)
			return
		}
		h.writeQueueError(w, r, err)
		return
	}

	h.logger.Info().
		Str("callbackId", callbackID).
		Msg("httpserver: callback requeued by operator")
	responders.JSON(w, http.StatusOK, map[string]any{
		"callbackId": callbackID,
		"status":     storage.CallbackStatusPending,
	})
}

// deleteCallback removes a queue entry outright.
// DELETE /admin/callbacks/{id}
func (h *handlers) deleteCallback(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")

	if err := h.queue.Delete(r.Context(), callbackID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCallbackNotFound,
				"no queued callback under "+callbackID)
			return
		}
		h.writeQueueError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Error().Err(err).
		Msg("httpserver: callback queue operation failed")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeDBUnavailable,
		"callback queue unavailable, retry shortly")
}
