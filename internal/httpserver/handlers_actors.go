package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/NexusGateway/server/internal/errors"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/pkg/responders"
)

// registerActor creates a participant. The response is the only place
// the callback signing secret ever appears in full.
func (h *handlers) registerActor(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest,
			"request body is not a valid actor registration: "+err.Error())
		return
	}

	result, err := h.actors.Register(r.Context(), req)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusCreated, result)
}

// listActors returns registered participants, optionally narrowed by
// the kind query parameter.
func (h *handlers) listActors(w http.ResponseWriter, r *http.Request) {
	kind := registry.ActorKind(r.URL.Query().Get("kind"))

	actors, err := h.actors.List(r.Context(), kind)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	if actors == nil {
		actors = []registry.Actor{}
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"actors": actors,
		"count":  len(actors),
	})
}

// getActor returns one participant. The secret stays out of the JSON
// shape.
func (h *handlers) getActor(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actors.Get(r.Context(), chi.URLParam(r, "actorId"))
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, actor)
}

// rotateActorSecret mints a fresh signing secret and returns it once.
// Deliveries signed with the old secret fail verification from here on.
func (h *handlers) rotateActorSecret(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actorId")

	secret, err := h.actors.RotateSecret(r.Context(), actorID)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"actorId":        actorID,
		"callbackSecret": secret,
	})
}

// testActorCallback sends one signed synthetic status report to the
// actor's endpoint and reports the outcome synchronously.
func (h *handlers) testActorCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.actors.TestCallback(r.Context(), chi.URLParam(r, "actorId"))
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, result)
}
