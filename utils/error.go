package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind is the machine-checkable classification every operation error
// carries back to the HTTP layer.
type ErrorKind string

const (
	// ErrorKindValidation: malformed or missing input. The caller must fix
	// the request; never retried automatically.
	ErrorKindValidation ErrorKind = "VALIDATION"
	// ErrorKindConflict: uniqueness or custody-invariant violation (unit not
	// held by the asserted party, duplicate barcode, lost transfer race).
	ErrorKindConflict ErrorKind = "CONFLICT"
	// ErrorKindNotFound: barcode/shipment/party reference does not exist.
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
	// ErrorKindExternal: a collaborator (notarization, storage) failed. The
	// primary operation degrades gracefully instead of failing.
	ErrorKindExternal ErrorKind = "EXTERNAL"
)

// AppError is the typed error returned by every models operation. Refs holds
// offending identifiers (unit barcodes, tracking numbers) so the caller can
// decide whether to retry against updated state.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Refs    []string  `json:"refs,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if len(e.Refs) > 0 {
		return e.Message + " [" + strings.Join(e.Refs, ", ") + "]"
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.cause }

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(refs []string, format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindConflict, Message: fmt.Sprintf(format, args...), Refs: refs}
}

func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewExternalServiceError(cause error, format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindExternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf reports the classification of err, defaulting to EXTERNAL for
// unexpected failures (DB down, context cancelled) so callers never mistake
// infrastructure trouble for bad input.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorKindNotFound
	}
	return ErrorKindExternal
}

func IsValidation(err error) bool { return KindOf(err) == ErrorKindValidation }
func IsConflict(err error) bool   { return KindOf(err) == ErrorKindConflict }
func IsNotFound(err error) bool   { return KindOf(err) == ErrorKindNotFound }
