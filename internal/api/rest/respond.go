// Package rest holds the JSON response helpers shared by the HTTP
// surfaces of the analyzer, controller, and collector.
package rest

import (
	"encoding/json"
	"net/http"
)

// APIError is the error body contract: {"error": <message>}.
type APIError struct {
	Error string `json:"error"`
}

// RespondJSON writes v as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError writes the standard error shape.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, APIError{Error: message})
}
