// Package httpkit holds the JSON request/response helpers and the CORS
// middleware shared by the jobs API handlers.
package httpkit

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the inner payload of every error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the JSON body every endpoint returns on failure.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// DecodeJSON decodes a request body into v. Unknown fields are rejected
// so misspelled request fields fail loudly instead of being ignored.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// WriteJSON writes body as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes a coded error envelope.
func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: msg,
		Details: details,
	}})
}
