package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// respondServiceError maps a service-layer error onto the wire format. Only
// coded messages reach the client; everything else collapses to a generic
// internal error.
func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, apperrors.HTTPStatus(err), apperrors.Code(err), apperrors.UserMessage(err))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput("body", "invalid JSON request body")
	}
	return nil
}
