// Package httputil centralizes JSON response writing so every endpoint emits
// the same envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "worktrail/pkg/domain-errors"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the JSON error envelope
// {"error": <code>, "error_description": <message>}.
//
// Internal errors omit the description so store and broker details never leak
// to callers; every other code echoes its message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)

	body := map[string]string{
		"error": string(code),
	}
	if code != dErrors.CodeInternal {
		body["error_description"] = err.Error()
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}
