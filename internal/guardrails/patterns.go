package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// PIIType is the label recorded when a rule fires.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypeIBAN       PIIType = "iban"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeSSN        PIIType = "ssn"
	PIITypePhone      PIIType = "phone"
	PIITypeAddress    PIIType = "address"
)

// PatternRule pairs a label with its matcher and the placeholder that replaces matches.
// Group selects the submatch that is replaced; 0 replaces the whole match.
// With a non-zero Group the next search starts where that submatch ends, so
// context matched around it is seen again.
type PatternRule struct {
	Label       PIIType
	Pattern     *regexp.Regexp
	Group       int
	Placeholder string
}

// Unicode-aware building blocks. RE2's \d, \s and \b are ASCII-only, so
// digits, whitespace and word boundaries are spelled out. A boundary is
// expressed as one consumed non-word rune (or the text edge) around the
// replaced group; the scan resumes where the group ends, so adjacent matches
// can share a separator.
const (
	digit     = `\p{Nd}`
	space     = `[\s\x0B\x1C-\x1F\x{85}\p{Z}]`
	nonWord   = `[^\p{L}\p{N}_]`
	leftEdge  = `(?:^|` + nonWord + `)`
	rightEdge = `(?:` + nonWord + `|$)`
)

// DefaultRules returns the built-in ruleset in evaluation order.
// Rules with tight structural anchors run first so the looser numeric
// and address matchers only see what is left.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			Label:       PIITypeEmail,
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Placeholder: "[REDACTED_EMAIL]",
		},
		// Matches: DE89370400440532013000, GB82WEST12345698765432
		{
			Label:       PIITypeIBAN,
			Pattern:     regexp.MustCompile(leftEdge + `([A-Z]{2}` + digit + `{2}[A-Z0-9]{11,30})` + rightEdge),
			Group:       1,
			Placeholder: "[REDACTED_IBAN]",
		},
		// 13-19 digits with optional spaces or hyphens between them
		{
			Label:       PIITypeCreditCard,
			Pattern:     regexp.MustCompile(leftEdge + `(` + digit + `(?:[ -]*` + digit + `){12,18})` + rightEdge),
			Group:       1,
			Placeholder: "[REDACTED_CARD]",
		},
		{
			Label:       PIITypeSSN,
			Pattern:     regexp.MustCompile(leftEdge + `(` + digit + `{3}-` + digit + `{2}-` + digit + `{4})` + rightEdge),
			Group:       1,
			Placeholder: "[REDACTED_SSN]",
		},
		// Matches: (555) 123-4567, 555-123-4567, 555.123.4567, +1 555 123 4567, 5551234567
		{
			Label: PIITypePhone,
			Pattern: regexp.MustCompile(`((?:\+?` + digit + `{1,3}[ \-\.]?)?(?:\(?` + digit + `{3}\)?[ \-\.]?` +
				digit + `{3}[ \-\.]?` + digit + `{4}))` + rightEdge),
			Group:       1,
			Placeholder: "[REDACTED_PHONE]",
		},
		// House number plus two words, followed by whitespace or end of text.
		{
			Label: PIITypeAddress,
			Pattern: regexp.MustCompile(leftEdge + `(` + digit + `{1,6}` + space + `+[A-Za-z]{2,}` + space +
				`+[A-Za-z]{2,})(?:` + space + `|$)`),
			Group:       1,
			Placeholder: "[REDACTED_ADDRESS]",
		},
	}
}

// ValidateRules checks that a ruleset can be used by a Redactor:
// labels are unique, every pattern is set, the group index exists,
// and no placeholder is matched by any rule.
func ValidateRules(rules []PatternRule) error {
	seen := make(map[PIIType]struct{}, len(rules))
	for i, r := range rules {
		if r.Label == "" {
			return fmt.Errorf("rule %d: label is required", i)
		}
		if _, dup := seen[r.Label]; dup {
			return fmt.Errorf("rule %q: duplicate label", r.Label)
		}
		seen[r.Label] = struct{}{}

		if r.Pattern == nil {
			return fmt.Errorf("rule %q: pattern is required", r.Label)
		}
		if r.Group < 0 || r.Group > r.Pattern.NumSubexp() {
			return fmt.Errorf("rule %q: group %d out of range (pattern has %d)", r.Label, r.Group, r.Pattern.NumSubexp())
		}
		if r.Placeholder == "" {
			return fmt.Errorf("rule %q: placeholder is required", r.Label)
		}
	}

	for _, r := range rules {
		for _, other := range rules {
			if other.Pattern.MatchString(r.Placeholder) {
				return fmt.Errorf("placeholder %q of rule %q is matched by rule %q", r.Placeholder, r.Label, other.Label)
			}
		}
	}
	return nil
}

// SelectRules filters rules down to the enabled labels, keeping declaration order.
// An empty list enables every rule. Unknown labels are an error.
func SelectRules(rules []PatternRule, enabled []string) ([]PatternRule, error) {
	if len(enabled) == 0 {
		return rules, nil
	}

	known := make(map[PIIType]struct{}, len(rules))
	for _, r := range rules {
		known[r.Label] = struct{}{}
	}

	want := make(map[PIIType]struct{}, len(enabled))
	for _, name := range enabled {
		label := PIIType(strings.ToLower(strings.TrimSpace(name)))
		if label == "" {
			continue
		}
		if _, ok := known[label]; !ok {
			return nil, fmt.Errorf("unknown PII detector %q", name)
		}
		want[label] = struct{}{}
	}

	selected := make([]PatternRule, 0, len(want))
	for _, r := range rules {
		if _, ok := want[r.Label]; ok {
			selected = append(selected, r)
		}
	}
	return selected, nil
}
