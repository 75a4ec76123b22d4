// Package shared holds the JSON response helpers used by every HTTP surface.
package shared

import (
	"encoding/json"
	"net/http"

	"github.com/rubiojr/pulse/pkg/log"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ForService("http").Warnf("Error encoding JSON response: %v", err)
	}
}

// WriteError writes an ErrorResponse. code is a short machine readable
// identifier such as "unauthorized" or "not_found".
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}
