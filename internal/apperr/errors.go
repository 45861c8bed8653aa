// Package apperr defines the error taxonomy shared by DayLens components.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies a failure for presentation and diagnostics.
type Kind int

const (
	KindRemoteOperation Kind = iota
	KindAuthentication
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "remote_operation"
	}
}

// Error is a classified failure. Message is short and safe to show to the
// user; Err holds the diagnostic cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Message
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, Validation("", ""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Op == ""
}

// Validation returns a KindValidation error.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// Authentication wraps a provider rejection.
func Authentication(op string, err error) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Message: messageOf(err), Err: err}
}

// Remote wraps a store or network failure.
func Remote(op string, err error) *Error {
	return &Error{Kind: KindRemoteOperation, Op: op, Message: messageOf(err), Err: err}
}

// NotFound returns a KindNotFound error wrapping ErrNotFound.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg, Err: ErrNotFound}
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrRemote         = &Error{Kind: KindRemoteOperation}
)

// KindOf classifies err. Unclassified errors are remote operation failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindRemoteOperation
}

// MessageOf returns the user-facing part of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return messageOf(err)
}

// messageOf prefers a wrapped provider message when one is present.
func messageOf(err error) string {
	if err == nil {
		return ""
	}
	var m interface{ UserMessage() string }
	if errors.As(err, &m) {
		return m.UserMessage()
	}
	return err.Error()
}
