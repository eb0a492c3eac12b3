// Package providers defines the upstream adapter abstraction and the
// factory that builds the configured adapter at startup.
package providers

import (
	"context"
	"errors"
	"net/http"

	"piishield/internal/core"
)

// OutcomeKind classifies the result of one upstream submission.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeHTTPError
	OutcomeUnreachable
	OutcomeInvalidBody
	OutcomeUnsupported
)

// String returns the kind name used in logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeInvalidBody:
		return "invalid_body"
	case OutcomeUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Outcome is what an adapter returns for a submission. Exactly one kind applies:
//   - Success: StatusCode 200, Body holds the upstream JSON
//   - HTTPError: StatusCode and Body carry the upstream status and text
//   - Unreachable, InvalidBody: Err holds the cause
//   - Unsupported: Reason explains which provider is missing
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Reason     string
	Err        error
}

// Success builds a successful outcome.
func Success(body []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, StatusCode: http.StatusOK, Body: body}
}

// HTTPError builds an outcome for a non-200 upstream reply.
func HTTPError(statusCode int, body []byte) Outcome {
	return Outcome{Kind: OutcomeHTTPError, StatusCode: statusCode, Body: body}
}

// Unreachable builds an outcome for a transport failure or timeout.
func Unreachable(err error) Outcome {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Outcome{Kind: OutcomeUnreachable, Err: err}
}

// InvalidBody builds an outcome for a 200 reply whose body is not JSON.
func InvalidBody(err error) Outcome {
	return Outcome{Kind: OutcomeInvalidBody, StatusCode: http.StatusOK, Err: err}
}

// Unsupported builds an outcome for a provider with no implementation.
func Unsupported(reason string) Outcome {
	return Outcome{Kind: OutcomeUnsupported, Reason: reason}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// GatewayError converts a failed outcome into the error returned to the client.
// It returns nil for a success.
func (o Outcome) GatewayError() *core.GatewayError {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeHTTPError:
		return core.NewUpstreamHTTPError(o.StatusCode, string(o.Body))
	case OutcomeUnreachable:
		return core.NewUpstreamUnreachableError(o.Err)
	case OutcomeInvalidBody:
		return core.NewUpstreamInvalidBodyError(o.Err)
	case OutcomeUnsupported:
		return core.NewUnsupportedProviderError(o.Reason)
	}
	return core.NewUpstreamUnreachableError(errors.New("unclassified upstream outcome"))
}

// Adapter submits a serialized chat payload to one LLM backend.
// Implementations make a single attempt bounded by their timeout and
// must be safe for concurrent use.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, payload []byte) Outcome
}
