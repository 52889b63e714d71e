package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON error envelope shared by every endpoint.
type ErrorBody struct {
	Error       string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// WriteError writes an ErrorBody.
func WriteError(w http.ResponseWriter, code int, errCode, desc string) {
	WriteJSON(w, code, ErrorBody{Error: errCode, Description: desc})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// Token responses must never be cached.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
