// Package handlers implements the host's HTTP surface: event intake,
// progress streaming, semantic search and maintenance.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"movesia/internal/contextutil"
	"movesia/internal/event"
	"movesia/internal/session"
)

// Dispatcher routes validated envelopes into the core.
type Dispatcher interface {
	Dispatch(ctx context.Context, env event.Envelope) error
}

// EventsHandler accepts one wire envelope per request.
type EventsHandler struct {
	dispatcher Dispatcher
}

// NewEventsHandler creates the intake handler.
func NewEventsHandler(d Dispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: d}
}

type eventResponse struct {
	Accepted bool `json:"accepted"`
	Ack      bool `json:"ack"`
}

// ServeHTTP validates and dispatches one envelope. Malformed envelopes are
// dropped with 400 after logging; events from sources other than unity are
// logged and ignored with 202.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		logger.WarnContext(ctx, "invalid envelope dropped", "error", err)
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if err := env.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid envelope dropped", "type", env.Type, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := eventResponse{Accepted: true, Ack: event.Acknowledged(env.Type)}

	if env.Source != event.SourceUnity {
		logger.InfoContext(ctx, "non-unity event ignored", "source", env.Source, "type", env.Type)
		resp.Accepted = false
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := h.dispatcher.Dispatch(ctx, env); err != nil {
		// An unresolved session buffers the event; that is not a failure.
		if errors.Is(err, session.ErrUnresolved) {
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		logger.ErrorContext(ctx, "event failed", "type", env.Type, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}
