package rest

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// sendJSON writes data as a JSON response.
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		//nolint:errchkjson // The client may have gone away, nothing to do about it.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// sendError writes {"error": message}.
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, errorResponse{Error: message})
}
