package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// MembershipError indicates that the caller is not allowed to perform a
// membership mutation: adding a user outside the room population to a group,
// or managing members of a group they do not lead. Surfaced as an
// authorization failure.
type MembershipError struct {
	msg string
}

func NewMembershipError(msg string) error {
	return &MembershipError{msg: msg}
}

func (err MembershipError) Error() string {
	return err.msg
}

// ConsistencyError indicates a storage-level constraint violation that reached
// the application layer despite an application-level pre-check passing: a race
// was not serialized where it should have been. It must be logged and surfaced
// as a generic failure, never swallowed.
type ConsistencyError struct {
	Err error
}

func NewConsistencyError(err error) error {
	return &ConsistencyError{Err: err}
}

func (err ConsistencyError) Error() string {
	if err.Err == nil {
		return "consistency violation"
	}
	return "consistency violation: " + err.Err.Error()
}

func (err ConsistencyError) Unwrap() error { return err.Err }

func IsConsistencyError(err error) bool {
	_, ok := errors.Cause(err).(*ConsistencyError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
