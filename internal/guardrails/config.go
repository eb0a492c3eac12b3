package guardrails

import (
	"fmt"
	"time"
)

// Config controls which rules the redactor runs.
type Config struct {
	// Detectors lists the built-in rules to enable. Empty enables all of them.
	Detectors []string `mapstructure:"detectors"`

	// RulesFile is an optional YAML file of extra rules that run after the built-ins.
	RulesFile string `mapstructure:"rules_file"`
}

// PolicyConfig holds the constraints evaluated by the policy gate.
type PolicyConfig struct {
	// AllowedModels restricts the model field. Empty means no restriction.
	AllowedModels []string `mapstructure:"allowed_models"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig enables the per-client rate limit when both values are positive.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Enabled reports whether the rate limit rule should be installed.
func (c RateLimitConfig) Enabled() bool {
	return c.Requests > 0 && c.Window > 0
}

// BuildRedactor assembles the ruleset from cfg and returns a ready Redactor.
func BuildRedactor(cfg Config) (*Redactor, error) {
	rules, err := SelectRules(DefaultRules(), cfg.Detectors)
	if err != nil {
		return nil, err
	}

	if cfg.RulesFile != "" {
		extra, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
	}

	r, err := NewRedactor(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid PII ruleset: %w", err)
	}
	return r, nil
}

// BuildGate assembles the policy gate. counter may be nil when rate limiting is disabled.
func BuildGate(cfg PolicyConfig, counter Counter) *Gate {
	var rules []Rule
	if allow := NewModelAllowlist(cfg.AllowedModels); allow != nil {
		rules = append(rules, allow)
	}
	if cfg.RateLimit.Enabled() {
		if rl := NewRateLimitRule(counter, cfg.RateLimit.Requests, cfg.RateLimit.Window); rl != nil {
			rules = append(rules, rl)
		}
	}
	return NewGate(rules...)
}
