// Package response writes JSON bodies for the HTTP API.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope of messages and failures.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes v as the whole body.
func JSON(w http.ResponseWriter, status int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bytes)
}

// WriteJSON writes the envelope.
func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	var errorMsg string
	if err != nil {
		errorMsg = err.Error()
	}

	JSON(w, status, Response{
		Message: message,
		Data:    data,
		Error:   errorMsg,
	})
}

func OK(w http.ResponseWriter, message string, res any) {
	WriteJSON(w, http.StatusOK, message, res, nil)
}

func BadRequest(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusBadRequest, message, nil, err)
}

func Unauthorized(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusUnauthorized, message, nil, err)
}

func TooManyRequests(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusTooManyRequests, message, nil, err)
}

func InternalServerError(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusInternalServerError, message, nil, err)
}

func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}
