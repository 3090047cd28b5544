package domain

import "fmt"

// AppError is the base application error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}

// CollectionErrorKind categorizes collector failures so that the orchestrator
// and the health analyzer can apply the right retry policy.
type CollectionErrorKind string

const (
	// ErrKindTransient covers timeouts, HTTP 5xx and connection failures.
	// Retried with exponential backoff.
	ErrKindTransient CollectionErrorKind = "transient"
	// ErrKindThrottled covers HTTP 429 and explicit rate-limit responses.
	// Retried with longer backoff; feeds the adaptive rate limiter.
	ErrKindThrottled CollectionErrorKind = "throttled"
	// ErrKindSchema covers parses that succeeded but produced no usable
	// records or records missing required fields. Never retried.
	ErrKindSchema CollectionErrorKind = "schema"
	// ErrKindFatal covers unrecoverable failures.
	ErrKindFatal CollectionErrorKind = "fatal"
)

// CollectionError is a categorized collector failure.
type CollectionError struct {
	Kind    CollectionErrorKind
	Source  string
	Message string
	Cause   error
}

func (e *CollectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Source, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Source, e.Kind, e.Message)
}

func (e *CollectionError) Unwrap() error { return e.Cause }

// Retryable reports whether the error kind is eligible for task-level retry.
func (e *CollectionError) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindThrottled
}

func NewTransientError(source, msg string, cause error) *CollectionError {
	return &CollectionError{Kind: ErrKindTransient, Source: source, Message: msg, Cause: cause}
}

func NewThrottledError(source, msg string) *CollectionError {
	return &CollectionError{Kind: ErrKindThrottled, Source: source, Message: msg}
}

func NewSchemaError(source, msg string) *CollectionError {
	return &CollectionError{Kind: ErrKindSchema, Source: source, Message: msg}
}

func NewFatalError(source, msg string, cause error) *CollectionError {
	return &CollectionError{Kind: ErrKindFatal, Source: source, Message: msg, Cause: cause}
}
