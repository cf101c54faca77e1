// Package notifyerr defines the error kinds shared across the notification
// pipeline (spec §7) and the HTTP status they map to when surfaced at a
// boundary endpoint.
package notifyerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging and HTTP-status mapping purposes.
type Kind string

const (
	InvalidInput   Kind = "invalid-input"
	NotAuthorized  Kind = "not-authorized"
	NotFound       Kind = "not-found"
	TransientInfra Kind = "transient-infra"
	RenderFailure  Kind = "render-failure"
	ExpiredToken   Kind = "expired-token"
	BadSignature   Kind = "bad-signature"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to TransientInfra for
// errors that weren't classified by this package (the safe default: retry
// rather than silently drop).
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return TransientInfra
}

// HTTPStatus maps a Kind to the status code a boundary handler should
// return. The unsubscribe endpoint never uses this for its own response —
// per spec it always answers 200 — but handlers for the config endpoints
// do.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NotAuthorized:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case TransientInfra:
		return http.StatusServiceUnavailable
	case RenderFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the handler in component D should retry the
// batch that produced this error rather than discard it.
func Retriable(err error) bool {
	switch KindOf(err) {
	case TransientInfra, RenderFailure:
		return true
	default:
		return false
	}
}
