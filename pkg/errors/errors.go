package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Supervision workflow conflicts. Each carries a distinct machine-checkable
// code so clients can branch on the failure kind.
var (
	ErrSessionOverlap      = New("SESSION_OVERLAP", http.StatusConflict, "session window overlaps an existing session")
	ErrSessionNotActive    = New("SESSION_NOT_ACTIVE", http.StatusConflict, "session is not currently active")
	ErrSessionFull         = New("SESSION_FULL", http.StatusConflict, "session has no remaining capacity")
	ErrAlreadySupervised   = New("ALREADY_SUPERVISED", http.StatusConflict, "student already has an approved supervision")
	ErrDuplicateRequest    = New("DUPLICATE_REQUEST", http.StatusConflict, "student already has an active request for this session")
	ErrAlreadyProcessed    = New("ALREADY_PROCESSED", http.StatusConflict, "request has already been processed")
	ErrNotPending          = New("NOT_PENDING", http.StatusConflict, "request is no longer pending")
	ErrNotApproved         = New("NOT_APPROVED", http.StatusConflict, "request is not approved")
	ErrWrongDocumentState  = New("WRONG_DOCUMENT_STATE", http.StatusConflict, "operation not allowed in current document state")
	ErrHasApprovedRequests = New("HAS_APPROVED_REQUESTS", http.StatusConflict, "session has approved requests")
	ErrHasRequests         = New("HAS_REQUESTS", http.StatusConflict, "session is referenced by requests")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
