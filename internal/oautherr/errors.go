// Package oautherr defines the OAuth2 error taxonomy used across the
// server. Validation failures carry an RFC 6749 error code and surface
// directly to clients; internal failures are collapsed into
// server_error so no internal detail leaks.
package oautherr

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code is an OAuth2 error code as defined by RFC 6749 §5.2 and §4.1.2.1.
type Code string

const (
	InvalidRequest          Code = "invalid_request"
	InvalidClient           Code = "invalid_client"
	InvalidGrant            Code = "invalid_grant"
	InvalidScope            Code = "invalid_scope"
	UnauthorizedClient      Code = "unauthorized_client"
	AccessDenied            Code = "access_denied"
	UnsupportedGrantType    Code = "unsupported_grant_type"
	UnsupportedResponseType Code = "unsupported_response_type"
	ServerError             Code = "server_error"
	Timeout                 Code = "temporarily_unavailable"
)

// Error is a classified OAuth2 error. Description is safe to return to
// the client.
type Error struct {
	Code        Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// New creates a classified error with a client-safe description.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Newf creates a classified error with a formatted description.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// From classifies an arbitrary error. A wrapped *Error keeps its code;
// context deadline errors become Timeout; anything else is ServerError
// with a generic description.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(Timeout, "the request timed out")
	}
	return New(ServerError, "internal server error")
}

// HTTPStatus maps the error code to the HTTP status defined by RFC 6749.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case InvalidClient:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	case ServerError:
		return http.StatusInternalServerError
	case Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// IsCode reports whether err carries the given OAuth2 error code.
func IsCode(err error, code Code) bool {
	var oe *Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Code == code
}
