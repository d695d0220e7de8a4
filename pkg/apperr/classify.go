package apperr

import (
	"context"
	"errors"
	"maps"
	"net/http"
)

// Built-in business rule codes.
const (
	RuleOrderNotFound     = "ORDER_NOT_FOUND"
	RuleOrderNotPending   = "ORDER_NOT_PENDING"
	RuleRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	RuleInvalidPagination = "INVALID_PAGINATION"
	RuleForbidden         = "FORBIDDEN"
	RuleRouteNotFound     = "ROUTE_NOT_FOUND"
	RuleMethodNotAllowed  = "METHOD_NOT_ALLOWED"
)

// DefaultRuleStatus is applied to business rules without an explicit mapping.
const DefaultRuleStatus = http.StatusConflict

// ExceptionInfo is the client-safe projection of a failure.
type ExceptionInfo struct {
	StatusCode int
	ErrorCode  string
	Message    string
	ErrorType  string
	Details    any
}

// Classifier maps errors to ExceptionInfo. RuleStatus overrides the HTTP
// status of individual business rules; the zero Classifier is usable.
type Classifier struct {
	RuleStatus        map[string]int
	DefaultRuleStatus int
}

// BuiltinRuleStatus returns the status overrides for the built-in rules.
func BuiltinRuleStatus() map[string]int {
	return map[string]int{
		RuleOrderNotFound:     http.StatusNotFound,
		RuleRateLimitExceeded: http.StatusTooManyRequests,
		RuleInvalidPagination: http.StatusBadRequest,
		RuleForbidden:         http.StatusForbidden,
		RuleRouteNotFound:     http.StatusNotFound,
		RuleMethodNotAllowed:  http.StatusMethodNotAllowed,
	}
}

// NewClassifier returns a Classifier with the built-in rule statuses merged
// with overrides. Overrides win.
func NewClassifier(overrides map[string]int) *Classifier {
	rs := BuiltinRuleStatus()
	maps.Copy(rs, overrides)
	return &Classifier{RuleStatus: rs, DefaultRuleStatus: DefaultRuleStatus}
}

// Fallback is returned when classification itself cannot complete.
func Fallback() ExceptionInfo {
	return ExceptionInfo{
		StatusCode: http.StatusInternalServerError,
		ErrorCode:  CodeUnknown,
		Message:    MessageUnknown,
		ErrorType:  TypeInternal,
	}
}

// Classify maps err to its client-safe projection. It never panics: a
// failure while inspecting err yields Fallback.
func (c *Classifier) Classify(err error) (info ExceptionInfo) {
	defer func() {
		if r := recover(); r != nil {
			info = Fallback()
		}
	}()

	if err == nil {
		return Fallback()
	}

	var ae *Error
	switch {
	case errors.As(err, &ae) && ae != nil:
		return c.fromError(ae)
	case errors.Is(err, context.DeadlineExceeded):
		return c.fromError(Timeout())
	default:
		return ExceptionInfo{
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  CodeInternal,
			Message:    MessageInternal,
			ErrorType:  TypeInternal,
		}
	}
}

func (c *Classifier) fromError(e *Error) ExceptionInfo {
	info := ExceptionInfo{
		ErrorCode: e.Code,
		Message:   e.Message,
		ErrorType: e.Category.ErrorType(),
	}

	switch e.Category {
	case CategoryValidation:
		info.StatusCode = http.StatusBadRequest
		if info.ErrorCode == "" {
			info.ErrorCode = CodeValidation
		}
		d := maps.Clone(e.Details)
		if d == nil {
			d = make(map[string]any, 1)
		}
		violations := append([]FieldViolation{}, e.Violations...)
		d["violations"] = violations
		info.Details = d
	case CategoryBusinessRule:
		if info.ErrorCode == "" {
			info.ErrorCode = CodeBusinessRule
		}
		info.StatusCode = c.ruleStatus(info.ErrorCode)
		d := maps.Clone(e.Details)
		if d == nil {
			d = make(map[string]any, 1)
		}
		d["rule"] = info.ErrorCode
		info.Details = d
	case CategoryUnauthorized:
		info.StatusCode = http.StatusUnauthorized
		if info.ErrorCode == "" {
			info.ErrorCode = CodeUnauthorized
		}
	case CategoryTimeout:
		info.StatusCode = http.StatusRequestTimeout
		info.ErrorCode = CodeTimeout
		info.Message = MessageTimeout
	default:
		// Unknown-category errors never expose their message or details.
		info.StatusCode = http.StatusInternalServerError
		info.ErrorCode = CodeInternal
		info.Message = MessageInternal
	}

	if info.Message == "" {
		info.Message = MessageInternal
	}
	return info
}

func (c *Classifier) ruleStatus(rule string) int {
	if s, ok := c.RuleStatus[rule]; ok && s >= 400 && s <= 599 {
		return s
	}
	if c.DefaultRuleStatus != 0 {
		return c.DefaultRuleStatus
	}
	return DefaultRuleStatus
}
