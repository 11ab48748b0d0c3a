package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/softaidev/assistant-ledger/internal/assistant"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// CallsHandler records voice calls and callback requests.
type CallsHandler struct {
	service *assistant.Service
	logger  *logging.Logger
}

func NewCallsHandler(service *assistant.Service, logger *logging.Logger) *CallsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallsHandler{service: service, logger: logger.Component("calls")}
}

// StartCall opens an in-progress call record.
// POST /calls
func (h *CallsHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req assistant.CallInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	rec, err := h.service.StartCall(r.Context(), req)
	if err != nil && rec == nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if err != nil {
		h.logger.Warn("call stored with follow-up errors", "error", err, "call_id", rec.CallID)
	}
	writeJSON(w, http.StatusCreated, rec)
}

type updateCallRequest struct {
	Status   ledger.CallStatus `json:"status"`
	Duration int               `json:"duration"`
	Summary  string            `json:"summary"`
	Reason   string            `json:"reason"`
}

// UpdateCall moves a call to completed, declined or missed.
// PATCH /calls/{callID}
func (h *CallsHandler) UpdateCall(w http.ResponseWriter, r *http.Request) {
	var req updateCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	callID := chi.URLParam(r, "callID")

	var (
		rec *ledger.CallRecord
		err error
	)
	switch req.Status {
	case ledger.CallCompleted:
		rec, err = h.service.CompleteCall(r.Context(), callID, req.Duration, req.Summary)
	case ledger.CallDeclined:
		rec, err = h.service.DeclineCall(r.Context(), callID, req.Reason)
	case ledger.CallMissed:
		rec, err = h.service.MarkMissed(r.Context(), callID)
	default:
		err = &ledger.ValidationError{Field: "status", Reason: "must be completed, declined or missed"}
	}
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RequestCallback stores a pending callback request.
// POST /callbacks
func (h *CallsHandler) RequestCallback(w http.ResponseWriter, r *http.Request) {
	var req assistant.CallbackInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	rec, err := h.service.RequestCallback(r.Context(), req)
	if err != nil && rec == nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if err != nil {
		h.logger.Warn("callback stored with follow-up errors", "error", err, "call_id", rec.CallID)
	}
	writeJSON(w, http.StatusCreated, rec)
}
