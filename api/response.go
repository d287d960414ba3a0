package api

import (
	"encoding/json"
	"net/http"

	"github.com/verita-ai/verita/internal/log"
)

// writeJSON writes a JSON response with the given status code. If encoding
// fails after WriteHeader the status is already sent; the error is only
// logged.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, logger log.Logger, status int, err string, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: err, Message: message})
}
