package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps the ledger and dispatcher error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, notify.ErrDispatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the mapped status. Server-side failures are
// logged and their details withheld from the client.
func writeError(w http.ResponseWriter, logger *logging.Logger, r *http.Request, err error, messageID string) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), MessageID: messageID}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", "error", err, "path", r.URL.Path)
		resp.Error = "internal error"
	case http.StatusBadGateway:
		logger.Warn("upstream email provider failed", "error", err, "path", r.URL.Path)
		resp.Error = "email provider unavailable"
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &ledger.ValidationError{Field: "body", Reason: "empty request body"}
		}
		return &ledger.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

// queryLimit reads ?limit=, falling back to ledger.DefaultListLimit and capping at max.
func queryLimit(r *http.Request, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		return ledger.DefaultListLimit
	}
	return min(limit, max)
}
