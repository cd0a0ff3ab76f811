package gateway

import (
	"encoding/json"
	"net/http"
)

// RunResponse is the envelope returned by every /run/ endpoint. Logical
// flow failures and engine faults use the same shape with Success false;
// only malformed requests produce a non-2xx status.
type RunResponse struct {
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
}

// RunRequest is the accepted body of a /run/ call; all fields optional
type RunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding a known struct cannot fail; ignore the write error as the
	// client may have gone away
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse is the body for admin and registry errors
type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error body with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
