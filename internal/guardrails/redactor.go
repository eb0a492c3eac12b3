// Package guardrails provides the PII redaction engine and the policy gate
// that every chat request passes through before it is forwarded upstream.
package guardrails

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// LabelSet is the set of PII labels triggered while redacting.
type LabelSet map[PIIType]struct{}

// Add records a label.
func (s LabelSet) Add(label PIIType) {
	s[label] = struct{}{}
}

// Merge adds every label from other.
func (s LabelSet) Merge(other LabelSet) {
	for label := range other {
		s[label] = struct{}{}
	}
}

// Has reports whether the label was triggered.
func (s LabelSet) Has(label PIIType) bool {
	_, ok := s[label]
	return ok
}

// Sorted returns the labels in lexicographic order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for label := range s {
		out = append(out, string(label))
	}
	slices.Sort(out)
	return out
}

// Result is the outcome of redacting one piece of text.
type Result struct {
	MaskedText string
	Labels     LabelSet
}

// Redactor applies an ordered ruleset to text.
// It holds no mutable state and is safe for concurrent use.
type Redactor struct {
	rules []PatternRule
}

// NewRedactor creates a Redactor over a validated copy of rules.
func NewRedactor(rules []PatternRule) (*Redactor, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return &Redactor{rules: slices.Clone(rules)}, nil
}

// Rules returns a copy of the ruleset in evaluation order.
func (r *Redactor) Rules() []PatternRule {
	return slices.Clone(r.rules)
}

// RuleNames returns the rule labels in evaluation order.
func (r *Redactor) RuleNames() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = string(rule.Label)
	}
	return names
}

// Redact runs every rule in order over the current text. Each rule replaces
// all of its non-overlapping matches, so later rules only see text that
// earlier rules left unmasked.
func (r *Redactor) Redact(text string) Result {
	labels := make(LabelSet)
	if text == "" {
		return Result{MaskedText: text, Labels: labels}
	}

	for _, rule := range r.rules {
		masked, hit := applyRule(rule, text)
		if hit {
			text = masked
			labels.Add(rule.Label)
		}
	}

	return Result{MaskedText: text, Labels: labels}
}

func applyRule(rule PatternRule, text string) (string, bool) {
	spans := matchSpans(rule, text)
	if len(spans) == 0 {
		return text, false
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp[0]])
		b.WriteString(rule.Placeholder)
		last = sp[1]
	}
	b.WriteString(text[last:])
	return b.String(), true
}

// matchSpans returns the byte ranges rule replaces, in order.
func matchSpans(rule PatternRule, text string) [][2]int {
	var spans [][2]int
	if rule.Group == 0 {
		for _, m := range rule.Pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{m[0], m[1]})
		}
		return spans
	}

	for pos := 0; pos <= len(text); {
		m := rule.Pattern.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		next := pos + m[1]
		if start, end := m[2*rule.Group], m[2*rule.Group+1]; start >= 0 && end > start {
			spans = append(spans, [2]int{pos + start, pos + end})
			next = pos + end
		}
		if next <= pos {
			_, size := utf8.DecodeRuneInString(text[pos:])
			next = pos + max(size, 1)
		}
		pos = next
	}
	return spans
}
