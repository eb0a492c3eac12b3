// Package core provides core types and errors shared by the PII shield gateway.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType represents the class of failure a request ended in
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed client payload (422)
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypePolicyDenied indicates the policy gate rejected the request (403)
	ErrorTypePolicyDenied ErrorType = "policy_denied"
	// ErrorTypeRateLimited indicates the policy gate throttled the client (429)
	ErrorTypeRateLimited ErrorType = "rate_limited"
	// ErrorTypeUpstreamUnreachable indicates a transport-level upstream failure (502)
	ErrorTypeUpstreamUnreachable ErrorType = "upstream_unreachable"
	// ErrorTypeUpstreamHTTP indicates the upstream answered with a non-200 status
	ErrorTypeUpstreamHTTP ErrorType = "upstream_http_error"
	// ErrorTypeUpstreamInvalidBody indicates the upstream answered 200 with unparsable content (502)
	ErrorTypeUpstreamInvalidBody ErrorType = "upstream_invalid_body"
	// ErrorTypeUnsupportedProvider indicates the configured provider has no implementation (501)
	ErrorTypeUnsupportedProvider ErrorType = "unsupported_provider"
)

// GatewayError is the base error type for all per-request failures.
// Message is what the client sees; it must never carry un-redacted request content.
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"detail"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusUnprocessableEntity
	case ErrorTypePolicyDenied:
		return http.StatusForbidden
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeUpstreamUnreachable, ErrorTypeUpstreamInvalidBody, ErrorTypeUpstreamHTTP:
		return http.StatusBadGateway
	case ErrorTypeUnsupportedProvider:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the client-facing body shape.
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"detail": e.Message,
	}
}

// NewInvalidRequestError creates an error for a payload that failed validation (422)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NewPolicyDeniedError creates a policy denial. A zero statusCode means 403.
func NewPolicyDeniedError(statusCode int, reason string) *GatewayError {
	if statusCode == 0 {
		statusCode = http.StatusForbidden
	}
	errType := ErrorTypePolicyDenied
	if statusCode == http.StatusTooManyRequests {
		errType = ErrorTypeRateLimited
	}
	return &GatewayError{
		Type:       errType,
		Message:    reason,
		StatusCode: statusCode,
	}
}

// NewUpstreamUnreachableError wraps a transport failure talking to the provider (502)
func NewUpstreamUnreachableError(err error) *GatewayError {
	cause := "unknown error"
	if err != nil {
		cause = err.Error()
	}
	return &GatewayError{
		Type:       ErrorTypeUpstreamUnreachable,
		Message:    "Upstream unreachable: " + cause,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewUpstreamHTTPError passes the provider's status code and body text through verbatim
func NewUpstreamHTTPError(statusCode int, body string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstreamHTTP,
		Message:    body,
		StatusCode: statusCode,
	}
}

// NewUpstreamInvalidBodyError reports a 200 response whose body is not JSON (502)
func NewUpstreamInvalidBodyError(err error) *GatewayError {
	cause := "empty body"
	if err != nil {
		cause = err.Error()
	}
	return &GatewayError{
		Type:       ErrorTypeUpstreamInvalidBody,
		Message:    "Upstream returned invalid JSON: " + cause,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewUnsupportedProviderError reports a provider selected by configuration that has no implementation (501)
func NewUnsupportedProviderError(reason string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUnsupportedProvider,
		Message:    reason,
		StatusCode: http.StatusNotImplemented,
	}
}
