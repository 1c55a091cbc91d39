package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
)

const maxEnvelopeBytes = 64 << 10

// Submitter executes signed envelopes.
type Submitter interface {
	Submit(ctx context.Context, env domain.Envelope) (runtime.Receipt, error)
}

// InvokeHandler accepts signed envelopes and runs them as one invocation.
type InvokeHandler struct {
	svc    Submitter
	logger *slog.Logger
}

// NewInvokeHandler creates an InvokeHandler.
func NewInvokeHandler(svc Submitter, logger *slog.Logger) *InvokeHandler {
	return &InvokeHandler{svc: svc, logger: logHandler(logger, "invoke")}
}

type invokeResponse struct {
	InvocationID string               `json:"invocation_id"`
	Results      any                  `json:"results"`
	Events       []domain.EventRecord `json:"events"`
}

// Invoke verifies and executes an envelope.
// POST /api/invoke
func (h *InvokeHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var env domain.Envelope
	if err := dec.Decode(&env); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "envelope too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}

	rcpt, err := h.svc.Submit(r.Context(), env)
	if err != nil {
		writeServiceError(w, r, h.logger, "invoke", err)
		return
	}

	events := make([]domain.EventRecord, 0, len(rcpt.Events))
	for _, ev := range rcpt.Events {
		rec, err := ev.Record()
		if err != nil {
			writeServiceError(w, r, h.logger, "encode events", err)
			return
		}
		events = append(events, rec)
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		InvocationID: rcpt.InvocationID.String(),
		Results:      rcpt.Result,
		Events:       events,
	})
}
