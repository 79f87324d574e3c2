package httpkit

import (
	"encoding/json"
	"net/http"
)

// StatusEnvelope is the {status, message} body most endpoints answer with.
type StatusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteStatus writes a StatusEnvelope; status codes below 400 are "success".
func WriteStatus(w http.ResponseWriter, status int, message string) {
	word := "success"
	if status >= http.StatusBadRequest {
		word = "error"
	}
	WriteJSON(w, status, StatusEnvelope{Status: word, Message: message})
}

// MethodNotAllowed is mounted as the router's 405 handler.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteStatus(w, http.StatusMethodNotAllowed, "Invalid request method")
}
