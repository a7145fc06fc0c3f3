// Package fault defines the error kinds shared by the recording and
// formatting pipelines and how each kind is reported to callers.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth is returned when a transcription credential cannot be issued.
	ErrAuth = errors.New("authentication failed")

	// ErrDevice is returned when the audio input device cannot be opened.
	ErrDevice = errors.New("audio device unavailable")

	// ErrConnection is returned when the streaming socket fails to open or
	// drops.
	ErrConnection = errors.New("connection failed")

	// ErrValidation is returned when input or model output has the wrong
	// shape.
	ErrValidation = errors.New("validation failed")

	// ErrProvider is returned when a downstream API answers with a
	// non-success status or a malformed payload.
	ErrProvider = errors.New("provider error")

	// ErrConfig is returned when a required secret or setting is missing.
	ErrConfig = errors.New("configuration error")
)

// Error carries a kind, a message safe to show to an operator, and the
// underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an error of the given kind.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Validation is shorthand for New(ErrValidation, msg).
func Validation(msg string) error {
	return New(ErrValidation, msg)
}

// Message returns the operator-facing message of err when it is a fault
// Error, and err.Error() otherwise.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return err.Error()
}

// HTTPStatus maps an error kind to the status code used at the request
// boundary.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConfig):
		return http.StatusInternalServerError
	case errors.Is(err, ErrAuth), errors.Is(err, ErrProvider), errors.Is(err, ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message that never leaks upstream details.
// Validation messages are returned as-is because they describe the
// caller's own input.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return Message(err)
	case errors.Is(err, ErrConfig):
		return "Service configuration error"
	case errors.Is(err, ErrAuth):
		return "Failed to generate transcription token"
	case errors.Is(err, ErrProvider), errors.Is(err, ErrConnection):
		return "Upstream service unavailable"
	default:
		return "Internal server error"
	}
}
