package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEmptyBody is returned by ParseJSON when the request carries no body.
var ErrEmptyBody = errors.New("request body is empty")

// errorBody is the shape of every error response. Code is only set for
// review rejections the client is expected to branch on.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// ParseJSON decodes a single JSON object into v. Unknown fields and
// trailing data are rejected.
func ParseJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: unexpected data after object")
	}
	return nil
}

func WriteError(w http.ResponseWriter, status int, message string) error {
	return WriteJSON(w, status, errorBody{Error: message})
}

func WriteCodedError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, errorBody{Error: message, Code: code})
}
