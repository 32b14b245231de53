package middleware

import (
	"net/http"

	"github.com/a-essam23/huddle/internal/gateway"
)

// reject answers a refused request with an error frame, the same shape the
// socket uses once it is open.
func reject(w http.ResponseWriter, status int, code, message string) {
	body, err := gateway.Encode(gateway.EventError, gateway.ErrorPayload{Code: code, Message: message})
	if err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
