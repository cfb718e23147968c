package httpkit

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope every endpoint returns.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErrBody writes a full error envelope.
func WriteErrBody(w http.ResponseWriter, status int, body ErrorBody) {
	WriteJSON(w, status, body)
}

// Accepted writes the 202 {"task_id": id} response used by every job endpoint.
func Accepted(w http.ResponseWriter, taskID string) {
	WriteJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
