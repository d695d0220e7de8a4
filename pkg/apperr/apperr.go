// Package apperr defines the failure taxonomy shared by request handling and
// background work.
//
// Business code reports failures as *Error values tagged with one of a closed
// set of categories. The Classifier turns any error into an ExceptionInfo, the
// only shape that is ever shown to a client.
package apperr

import (
	"fmt"
	"maps"
)

// Category is the closed set of failure kinds understood at the HTTP boundary.
type Category int

const (
	// CategoryUnknown is the zero value so an uninitialised Error can never
	// be mistaken for a client error.
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryBusinessRule
	CategoryUnauthorized
	CategoryTimeout
)

// Stable error codes. Business rules use their own rule code instead;
// CodeBusinessRule stands in when a rule has none.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTimeout      = "TIMEOUT_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnknown      = "UNKNOWN_ERROR"
)

// Error types as they appear in the envelope "type" field.
const (
	TypeValidation   = "ValidationError"
	TypeBusinessRule = "BusinessRuleError"
	TypeUnauthorized = "UnauthorizedError"
	TypeTimeout      = "TimeoutError"
	TypeInternal     = "InternalError"
)

// Default client-facing messages.
const (
	MessageValidation   = "Request validation failed"
	MessageBusinessRule = "The operation is not allowed"
	MessageUnauthorized = "Authentication required"
	MessageTimeout      = "Request timeout"
	MessageInternal     = "An internal error occurred"
	MessageUnknown      = "An unknown error occurred"
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "Validation"
	case CategoryBusinessRule:
		return "BusinessRule"
	case CategoryUnauthorized:
		return "Unauthorized"
	case CategoryTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ErrorType returns the envelope type name for the category.
func (c Category) ErrorType() string {
	switch c {
	case CategoryValidation:
		return TypeValidation
	case CategoryBusinessRule:
		return TypeBusinessRule
	case CategoryUnauthorized:
		return TypeUnauthorized
	case CategoryTimeout:
		return TypeTimeout
	default:
		return TypeInternal
	}
}

// FieldViolation describes one failed validation rule on one input field.
type FieldViolation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error is a categorised failure. Message is shown to clients and must be
// pre-authored text; the wrapped cause is for operators only.
type Error struct {
	Category   Category
	Code       string
	Message    string
	Violations []FieldViolation
	Details    map[string]any

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Category, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.cause = cause
	return c
}

// WithDetail returns a copy of e with one extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]any, 1)
	}
	c.Details[key] = value
	return c
}

func (e *Error) clone() *Error {
	c := *e
	c.Details = maps.Clone(e.Details)
	if e.Violations != nil {
		c.Violations = append([]FieldViolation(nil), e.Violations...)
	}
	return &c
}

// Validation reports input that failed structural or semantic rules.
func Validation(message string, violations ...FieldViolation) *Error {
	if message == "" {
		message = MessageValidation
	}
	return &Error{
		Category:   CategoryValidation,
		Code:       CodeValidation,
		Message:    message,
		Violations: violations,
	}
}

// BusinessRule reports a violated business invariant identified by rule.
func BusinessRule(rule, message string) *Error {
	if rule == "" {
		rule = CodeBusinessRule
	}
	if message == "" {
		message = MessageBusinessRule
	}
	return &Error{
		Category: CategoryBusinessRule,
		Code:     rule,
		Message:  message,
	}
}

// Unauthorized reports a caller without identity or without the required role.
func Unauthorized(message string) *Error {
	if message == "" {
		message = MessageUnauthorized
	}
	return &Error{
		Category: CategoryUnauthorized,
		Code:     CodeUnauthorized,
		Message:  message,
	}
}

// Timeout reports work that exceeded its time bound.
func Timeout() *Error {
	return &Error{
		Category: CategoryTimeout,
		Code:     CodeTimeout,
		Message:  MessageTimeout,
	}
}

// Internal wraps an unexpected failure. The client only sees MessageInternal.
func Internal(cause error) *Error {
	return &Error{
		Category: CategoryUnknown,
		Code:     CodeInternal,
		Message:  MessageInternal,
		cause:    cause,
	}
}
