// Package pipeline implements per-request mediation: policy check, PII
// masking, the upstream call, outcome classification and the audit record.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"piishield/internal/auditlog"
	"piishield/internal/core"
	"piishield/internal/guardrails"
	"piishield/internal/observability"
	"piishield/internal/providers"
)

// Response headers set on every successful chat completion.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderPIIRedacted    = "X-PII-Redacted"
	HeaderOriginalLength = "X-Original-Length"
	HeaderMaskedLength   = "X-Masked-Length"
	HeaderLatency        = "X-Latency-Seconds"
)

// NoPIIDetected is the X-PII-Redacted value when no rule fired.
const NoPIIDetected = "none"

// Options wires a Pipeline. Redactor and Adapter are required.
type Options struct {
	Redactor *guardrails.Redactor
	Gate     *guardrails.Gate
	Adapter  providers.Adapter
	Audit    auditlog.Store
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// RedactAssistant extends masking to assistant messages.
	RedactAssistant bool
}

// Pipeline mediates chat requests. It is safe for concurrent use; all of
// its collaborators are read-only after construction.
type Pipeline struct {
	redactor        *guardrails.Redactor
	gate            *guardrails.Gate
	adapter         providers.Adapter
	audit           auditlog.Store
	metrics         *observability.Metrics
	logger          *slog.Logger
	redactAssistant bool

	now   func() time.Time
	newID func() string
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Redactor == nil {
		return nil, errors.New("pipeline: redactor is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("pipeline: upstream adapter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := opts.Gate
	if gate == nil {
		gate = guardrails.NewGate()
	}
	return &Pipeline{
		redactor:        opts.Redactor,
		gate:            gate,
		adapter:         opts.Adapter,
		audit:           opts.Audit,
		metrics:         opts.Metrics,
		logger:          logger,
		redactAssistant: opts.RedactAssistant,
		now:             time.Now,
		newID:           uuid.NewString,
	}, nil
}

// Result is a successful mediation.
type Result struct {
	// Body is the upstream JSON, returned to the client verbatim.
	Body []byte

	RequestID      string
	Labels         []string
	OriginalLength int
	MaskedLength   int

	// Latency is the duration of the upstream call.
	Latency time.Duration
}

// RedactedHeader returns the X-PII-Redacted value.
func (r *Result) RedactedHeader() string {
	if len(r.Labels) == 0 {
		return NoPIIDetected
	}
	return strings.Join(r.Labels, ",")
}

// Headers returns the provenance headers for the client response.
func (r *Result) Headers() http.Header {
	h := make(http.Header, 5)
	h.Set(HeaderRequestID, r.RequestID)
	h.Set(HeaderPIIRedacted, r.RedactedHeader())
	h.Set(HeaderOriginalLength, strconv.Itoa(r.OriginalLength))
	h.Set(HeaderMaskedLength, strconv.Itoa(r.MaskedLength))
	h.Set(HeaderLatency, fmt.Sprintf("%.3f", r.Latency.Seconds()))
	return h
}

// masked is the redaction pass output for one request.
type masked struct {
	messages       []core.Message
	labels         guardrails.LabelSet
	originalLength int
	maskedLength   int
}

// Handle runs one request through the gateway. Failures are returned as
// *core.GatewayError. The request value is not modified.
func (p *Pipeline) Handle(ctx context.Context, req *core.ChatRequest, clientIP string) (*Result, error) {
	requestID := p.newID()
	ctx = core.WithRequestID(ctx, requestID)

	if decision := p.gate.Check(ctx, req, clientIP); !decision.Allowed {
		p.metrics.ObserveBlocked(decision.Rule)
		p.logger.WarnContext(ctx, "request.blocked",
			"request_id", requestID,
			"rule", decision.Rule,
			"status", decision.StatusCode,
			"client_ip", clientIP,
		)
		return nil, decision.Err()
	}

	m := p.mask(req.Messages)
	labels := m.labels.Sorted()

	rec := &auditlog.Record{
		ID:             requestID,
		PIITypes:       labels,
		Model:          optionalString(req.Model),
		OriginalLength: m.originalLength,
		MaskedLength:   m.maskedLength,
		ClientIP:       optionalString(clientIP),
	}

	payload, err := json.Marshal(req.WithoutStreaming(m.messages))
	if err != nil {
		gwErr := core.NewInvalidRequestError("request could not be serialized", err)
		p.fail(ctx, rec, gwErr)
		return nil, gwErr
	}

	upstreamStart := p.now()
	outcome := p.adapter.Submit(ctx, payload)
	latency := p.now().Sub(upstreamStart)

	if outcome.Kind != providers.OutcomeUnsupported {
		p.metrics.ObserveUpstream(latency.Seconds())
		secs := latency.Seconds()
		rec.LatencySeconds = &secs
	}

	if !outcome.OK() {
		gwErr := outcome.GatewayError()
		p.fail(ctx, rec, gwErr)
		return nil, gwErr
	}

	rec.Status = auditlog.StatusSuccess
	p.metrics.ObserveSuccess(latency.Seconds(), labels)
	p.writeAudit(ctx, rec)

	attrs := append(recordAttrs(rec), upstreamAttrs(outcome.Body)...)
	p.logger.InfoContext(ctx, "request.completed", attrs...)

	return &Result{
		Body:           outcome.Body,
		RequestID:      requestID,
		Labels:         labels,
		OriginalLength: m.originalLength,
		MaskedLength:   m.maskedLength,
		Latency:        latency,
	}, nil
}

// mask builds the outbound message list. Every message is a fresh copy;
// maskable text is fully redacted before it is placed in the list.
func (p *Pipeline) mask(msgs []core.Message) masked {
	out := masked{
		messages: make([]core.Message, 0, len(msgs)),
		labels:   make(guardrails.LabelSet),
	}
	for _, msg := range msgs {
		text, ok := msg.Text()
		if !ok {
			out.messages = append(out.messages, msg.Clone())
			continue
		}

		out.originalLength += utf8.RuneCountInString(text)
		if !p.maskable(msg.Role) {
			out.maskedLength += utf8.RuneCountInString(text)
			out.messages = append(out.messages, msg.Clone())
			continue
		}

		res := p.redactor.Redact(text)
		out.labels.Merge(res.Labels)
		out.maskedLength += utf8.RuneCountInString(res.MaskedText)
		out.messages = append(out.messages, msg.WithText(res.MaskedText))
	}
	return out
}

func (p *Pipeline) maskable(role string) bool {
	return role == "user" || (p.redactAssistant && role == "assistant")
}

// fail records a classified upstream or serialization failure.
func (p *Pipeline) fail(ctx context.Context, rec *auditlog.Record, gwErr *core.GatewayError) {
	rec.Status = auditlog.StatusError
	rec.ErrorType = string(gwErr.Type)

	p.metrics.ObserveError(rec.ErrorType)
	p.writeAudit(ctx, rec)

	attrs := append(recordAttrs(rec), "http_status", gwErr.HTTPStatusCode())
	if gwErr.Err != nil {
		attrs = append(attrs, "cause", gwErr.Err.Error())
	}
	p.logger.ErrorContext(ctx, "request.failed", attrs...)
}

// writeAudit persists rec before the response is built. A failed write is
// logged and counted but does not fail the request.
func (p *Pipeline) writeAudit(ctx context.Context, rec *auditlog.Record) {
	if p.audit == nil {
		return
	}
	// The record must land even if the client has gone away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.audit.Write(writeCtx, rec); err != nil {
		p.metrics.ObserveAuditFailure()
		p.logger.ErrorContext(ctx, "audit.write_failed",
			"request_id", rec.ID,
			"error", err,
		)
	}
}

// recordAttrs renders audit metadata as log attributes. No message content
// is ever included.
func recordAttrs(rec *auditlog.Record) []any {
	attrs := []any{
		"request_id", rec.ID,
		"status", rec.Status,
		"pii_types", rec.PIITypes,
		"original_length", rec.OriginalLength,
		"masked_length", rec.MaskedLength,
	}
	if rec.Model != nil {
		attrs = append(attrs, "model", *rec.Model)
	}
	if rec.LatencySeconds != nil {
		attrs = append(attrs, "latency", *rec.LatencySeconds)
	}
	if rec.ClientIP != nil {
		attrs = append(attrs, "client_ip", *rec.ClientIP)
	}
	if rec.ErrorType != "" {
		attrs = append(attrs, "error_type", rec.ErrorType)
	}
	return attrs
}

// upstreamAttrs picks scalar bookkeeping fields from an Ollama reply.
func upstreamAttrs(body []byte) []any {
	var attrs []any
	fields := gjson.GetManyBytes(body, "done_reason", "eval_count", "prompt_eval_count", "total_duration")
	names := []string{"upstream_done_reason", "upstream_eval_count", "upstream_prompt_eval_count", "upstream_total_duration_ns"}
	for i, f := range fields {
		if !f.Exists() {
			continue
		}
		switch f.Type {
		case gjson.Number:
			attrs = append(attrs, names[i], f.Int())
		case gjson.String:
			attrs = append(attrs, names[i], f.String())
		}
	}
	return attrs
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
