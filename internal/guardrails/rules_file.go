package guardrails

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk format for operator-defined rules.
//
//	rules:
//	  - label: employee_id
//	    pattern: 'EMP-\d{6}'
//	    placeholder: '[REDACTED_EMPLOYEE_ID]'
type RulesFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is a single uncompiled rule.
type RuleSpec struct {
	Label       string `yaml:"label"`
	Pattern     string `yaml:"pattern"`
	Group       int    `yaml:"group"`
	Placeholder string `yaml:"placeholder"`
}

// LoadRulesFile reads and compiles the rules in path.
// Validation against the rest of the ruleset happens in NewRedactor.
func LoadRulesFile(path string) ([]PatternRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guardrails.LoadRulesFile: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles rules from YAML bytes.
func ParseRules(data []byte) ([]PatternRule, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("guardrails.ParseRules: %w", err)
	}

	rules := make([]PatternRule, 0, len(f.Rules))
	for i, rs := range f.Rules {
		if rs.Label == "" {
			return nil, fmt.Errorf("guardrails.ParseRules: rule %d: label is required", i)
		}
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guardrails.ParseRules: rule %q: %w", rs.Label, err)
		}
		rules = append(rules, PatternRule{
			Label:       PIIType(rs.Label),
			Pattern:     re,
			Group:       rs.Group,
			Placeholder: rs.Placeholder,
		})
	}
	return rules, nil
}
