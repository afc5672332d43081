// Package handlers provides HTTP handlers for the enrichment engine API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorDTO is the structured error body returned on 4xx/5xx.
type ErrorDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorDTO{Error: message, Details: details})
}
