package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/partflow/partflow"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	MissingParts []int  `json:"missing_parts,omitempty"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	writeErrorResponse(w, code, ErrorResponse{Error: errCode, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError maps the package sentinels onto HTTP statuses.
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	var incomplete *partflow.IncompleteTransferError
	if errors.As(err, &incomplete) {
		writeErrorResponse(w, http.StatusConflict, ErrorResponse{
			Error:        "incomplete",
			Message:      incomplete.Error(),
			MissingParts: incomplete.Missing,
		})
		return
	}

	switch {
	case errors.Is(err, partflow.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Signature verification failed")
	case errors.Is(err, partflow.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, partflow.ErrPartConflict):
		WriteError(w, http.StatusConflict, "part_conflict", err.Error())
	case errors.Is(err, partflow.ErrIncomplete):
		WriteError(w, http.StatusConflict, "incomplete", err.Error())
	case errors.Is(err, partflow.ErrInvalidSize),
		errors.Is(err, partflow.ErrInvalidExpiry),
		errors.Is(err, partflow.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, partflow.ErrStoreUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "Storage backend temporarily unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
