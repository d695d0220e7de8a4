package apperr

import "time"

// Envelope is the sole response body of a failed request.
type Envelope struct {
	Error EnvelopeError `json:"error"`
}

// EnvelopeError carries the client-visible failure fields.
type EnvelopeError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Details   any       `json:"details"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
}

// TimeoutEnvelope is the minimal body written when a request exceeds its
// time bound. Field order is part of the wire contract.
type TimeoutEnvelope struct {
	Error TimeoutError `json:"error"`
}

// TimeoutError is the inner object of TimeoutEnvelope.
type TimeoutError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// NewEnvelope builds the envelope for info observed on method and path at ts.
func NewEnvelope(info ExceptionInfo, method, path string, ts time.Time) Envelope {
	return Envelope{Error: EnvelopeError{
		Code:      info.ErrorCode,
		Message:   info.Message,
		Type:      info.ErrorType,
		Details:   info.Details,
		Timestamp: ts.UTC(),
		Path:      path,
		Method:    method,
	}}
}

// NewTimeoutEnvelope returns the fixed timeout body.
func NewTimeoutEnvelope() TimeoutEnvelope {
	return TimeoutEnvelope{Error: TimeoutError{
		Message: MessageTimeout,
		Code:    CodeTimeout,
		Type:    TypeTimeout,
	}}
}
