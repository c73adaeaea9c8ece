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

// Reason is a stable, machine readable failure code surfaced to API clients.
type Reason string

const (
	ReasonNotFound             Reason = "not_found"
	ReasonNameMismatch         Reason = "name_mismatch"
	ReasonTokenExpired         Reason = "token_expired"
	ReasonTokenInvalid         Reason = "token_invalid"
	ReasonEmailTaken           Reason = "email_taken"
	ReasonDuplicateID          Reason = "duplicate_id"
	ReasonSupervisorNotFound   Reason = "supervisor_not_found"
	ReasonSupervisorAtCapacity Reason = "supervisor_at_capacity"
	ReasonInvalidCredential    Reason = "invalid_credential"
	ReasonConflict             Reason = "conflict"
)

// Error is a domain failure. Packages declare their own sentinel *Error values and callers compare
// them with errors.Cause.
type Error struct {
	Reason  Reason
	Message string
}

func NewError(reason Reason, msg string) *Error {
	return &Error{Reason: reason, Message: msg}
}

func (e *Error) Error() string {
	return e.Message
}

// ReasonOf returns the Reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Reason, true
	}
	return "", false
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
