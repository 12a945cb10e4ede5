// Package apperrors implements the error taxonomy the routing engine
// propagates: a structured ServiceError with a code, an HTTP-equivalent
// status, a wrapped cause, and helpers to classify an error chain.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class, independent of message text.
type Code string

const (
	CodeValidation  Code = "VALIDATION"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeTransient   Code = "TRANSIENT_BACKEND"
	CodePermanent   Code = "PERMANENT_BACKEND"
	CodeDelivery    Code = "DELIVERY_FAILURE"
	CodeCancelled   Code = "CANCELLED"
	CodeUnavailable Code = "UNAVAILABLE"
)

// ServiceError is the structured error type surfaced across component
// boundaries; each component recovers locally what it safely can (cache
// misses, etc.) and wraps everything else in one of these before handing
// it to its caller.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value of observability context.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(code Code, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

func wrapErr(code Code, message string, status int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports malformed caller input; never retried.
func Validation(field, reason string) *ServiceError {
	return newErr(CodeValidation, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

// NotFound reports an unknown project/agent/event.
func NotFound(resource, id string) *ServiceError {
	return newErr(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

// Conflict reports a duplicate registration with incompatible delivery.
func Conflict(message string) *ServiceError {
	return newErr(CodeConflict, message, http.StatusConflict)
}

// Transient reports a momentarily unavailable dependency; callers may
// retry internally up to a small bound before surfacing 503.
func Transient(operation string, err error) *ServiceError {
	return wrapErr(CodeTransient, "backend temporarily unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// Unavailable reports that the degradation controller has the system in
// UNAVAILABLE state: the caller's mutating operation is refused outright
// rather than attempted against a backend already known to be down.
func Unavailable(operation string) *ServiceError {
	return newErr(CodeUnavailable, "service unavailable, refusing write", http.StatusServiceUnavailable).
		WithDetails("operation", operation)
}

// Permanent reports a schema/corruption-class failure; never retried.
func Permanent(operation string, err error) *ServiceError {
	return wrapErr(CodePermanent, "backend failure", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// Delivery reports a webhook retry budget exhausted; never surfaced to
// the publisher — publishing and delivery are decoupled.
func Delivery(destination string, err error) *ServiceError {
	return wrapErr(CodeDelivery, "delivery failed", 0, err).
		WithDetails("destination", destination)
}

// Cancelled wraps a deadline or client cancellation.
func Cancelled(operation string, err error) *ServiceError {
	return wrapErr(CodeCancelled, "operation cancelled", 499, err).
		WithDetails("operation", operation)
}

// As extracts a *ServiceError from an error chain, if present.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// HTTPStatus returns the HTTP-equivalent status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
