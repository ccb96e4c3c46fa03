package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies workflow failures so handlers can map them to HTTP
// statuses and callers know whether a retry is safe.
type Kind int

const (
	// KindValidation - malformed or rule-violating input. Nothing was mutated.
	KindValidation Kind = iota + 1
	// KindStateConflict - the request is not in the state the operation requires.
	KindStateConflict
	// KindAuthorization - the actor lacks the required relationship or capability.
	KindAuthorization
	// KindNotFound - the target request/user does not exist.
	KindNotFound
	// KindTransient - lock timeout or persistence failure; the whole
	// operation rolled back and may be retried from scratch.
	KindTransient
)

// Error is the typed error returned by the workflow core. Validation,
// state-conflict and authorization errors are always raised before any
// mutation, so observing one guarantees no partial commit.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, set for transient errors
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure. The message shown to the
// caller stays generic; the cause is preserved for operator logs.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsStateConflict(err error) bool { return KindOf(err) == KindStateConflict }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsTransient(err error) bool     { return KindOf(err) == KindTransient }
