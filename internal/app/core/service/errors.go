package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors services wrap so callers can classify failures with
// errors.Is without depending on concrete error types.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrExpired       = errors.New("expired")
	ErrInternal      = errors.New("internal error")
)

// NotFoundError reports a missing resource. A token secret mismatch is
// reported through the same type so the two cases are externally
// indistinguishable.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RequiredError is a ValidationError for a missing mandatory field.
func RequiredError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ValidationErrors aggregates per-field validation failures. Each offending
// field keeps its own message.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error { return ErrInvalidInput }

// AccessDeniedError reports a failed guard. Reason is optional and kept
// server-side; callers receive one coarse signal.
type AccessDeniedError struct {
	Resource string
	ID       string
	UserID   string
	Reason   string
}

func NewAccessDeniedError(resource, id, userID string) *AccessDeniedError {
	return &AccessDeniedError{Resource: resource, ID: id, UserID: userID}
}

func (e *AccessDeniedError) Error() string {
	msg := fmt.Sprintf("access denied to %s %q for user %s", e.Resource, e.ID, e.UserID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error { return ErrForbidden }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q conflict: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrAlreadyExists }

// ExpiredError reports a token past its expiry. Distinct from NotFound:
// the record existed and cleanup side effects have already run.
type ExpiredError struct {
	Resource string
	ID       string
}

func NewExpiredError(resource, id string) *ExpiredError {
	return &ExpiredError{Resource: resource, ID: id}
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s %q is expired", e.Resource, e.ID)
}

func (e *ExpiredError) Unwrap() error { return ErrExpired }

// ServiceError annotates an error with the service and operation it came
// from.
type ServiceError struct {
	Service   string
	Operation string
	Err       error
}

func WrapServiceError(service, operation string, err error) *ServiceError {
	return &ServiceError{Service: service, Operation: operation, Err: err}
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Operation, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsValidationError(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsForbidden(err error) bool       { return errors.Is(err, ErrForbidden) }
func IsConflict(err error) bool        { return errors.Is(err, ErrAlreadyExists) }
func IsExpired(err error) bool         { return errors.Is(err, ErrExpired) }
func IsInternal(err error) bool        { return errors.Is(err, ErrInternal) }
