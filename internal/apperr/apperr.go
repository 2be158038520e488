// Package apperr defines the error taxonomy shared by the story services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels; match with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrTransientIO  = errors.New("transient io failure")
	ErrUnauthorized = errors.New("not authenticated")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConsistency  = errors.New("consistency failure")
)

// Error carries a kind sentinel, a caller-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is reports whether target is the kind sentinel.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Cause }

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func TransientIO(msg string, cause error) error {
	return &Error{Kind: ErrTransientIO, Message: msg, Cause: cause}
}

func Unauthorized(msg string) error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

func NotFound(what string) error {
	return &Error{Kind: ErrNotFound, Message: what + " not found"}
}

func Consistency(msg string, cause error) error {
	return &Error{Kind: ErrConsistency, Message: msg, Cause: cause}
}

// Message returns the caller-facing message of an *Error, or err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
