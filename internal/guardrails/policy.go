package guardrails

import (
	"context"
	"net/http"

	"piishield/internal/core"
)

// ModelNotAllowedReason is the denial reason returned by the model allowlist.
const ModelNotAllowedReason = "Model not allowed by policy."

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed    bool
	Reason     string
	StatusCode int
	// Rule names the rule that denied the request.
	Rule string
}

// Allow is the zero-cost allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denial for rule with the given status and client-facing reason.
func Deny(rule string, statusCode int, reason string) Decision {
	return Decision{Rule: rule, StatusCode: statusCode, Reason: reason}
}

// Err converts a denial into the gateway error returned to the client.
func (d Decision) Err() *core.GatewayError {
	if d.Allowed {
		return nil
	}
	return core.NewPolicyDeniedError(d.StatusCode, d.Reason)
}

// Rule is a single policy constraint.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, req *core.ChatRequest, clientIP string) Decision
}

// Gate evaluates rules in order; the first denial wins.
type Gate struct {
	rules []Rule
}

// NewGate creates a gate over rules. Nil rules are skipped.
func NewGate(rules ...Rule) *Gate {
	g := &Gate{}
	for _, r := range rules {
		if r != nil {
			g.rules = append(g.rules, r)
		}
	}
	return g
}

// Rules returns the names of the active rules in evaluation order.
func (g *Gate) Rules() []string {
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name()
	}
	return names
}

// Check runs before any redaction or upstream I/O.
func (g *Gate) Check(ctx context.Context, req *core.ChatRequest, clientIP string) Decision {
	if g == nil {
		return Allow()
	}
	for _, r := range g.rules {
		if d := r.Evaluate(ctx, req, clientIP); !d.Allowed {
			if d.Rule == "" {
				d.Rule = r.Name()
			}
			return d
		}
	}
	return Allow()
}

// ModelAllowlist denies requests for models outside a fixed set.
type ModelAllowlist struct {
	models map[string]struct{}
}

// NewModelAllowlist returns nil when models is empty, meaning no restriction.
func NewModelAllowlist(models []string) *ModelAllowlist {
	if len(models) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	return &ModelAllowlist{models: set}
}

// Name implements Rule.
func (a *ModelAllowlist) Name() string { return "model_allowlist" }

// Evaluate implements Rule.
func (a *ModelAllowlist) Evaluate(_ context.Context, req *core.ChatRequest, _ string) Decision {
	if _, ok := a.models[req.Model]; ok {
		return Allow()
	}
	return Deny(a.Name(), http.StatusForbidden, ModelNotAllowedReason)
}
