// http.go - shared JSON response envelope for all Flicknest services.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrNoToken is returned when a request carries no usable Bearer token.
var ErrNoToken = errors.New("missing or malformed Authorization header")

// errorBody is the uniform error envelope returned by every service.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

// WriteError writes the uniform error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	writeError(w, status, code, msg)
}
