// Package domainerrors defines the error codes the service exposes to callers.
//
// Infrastructure layers return sentinel errors (pkg/platform/sentinel) or
// wrapped driver errors; services and handlers translate those into a
// DomainError with a stable, machine-readable code. The HTTP layer maps codes
// to status lines and decides which messages are safe to echo back.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// DomainError carries a code plus a human-readable message. The message for
// CodeInternal is never surfaced to callers; see httputil.WriteError.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

// New constructs a DomainError with the given code and message.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap constructs a DomainError that records an underlying cause for
// errors.Is/As chains while presenting a stable code and message.
func Wrap(code Code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, cause: cause}
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.cause }

// HasCode reports whether err is (or wraps) a DomainError with the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// unclassified errors so unknown failures never leak details.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps an error code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
