// Package sanitize applies regex-based redaction to result row values
// before they leave the engine, so credentials or PII stored in the target
// database never reach the calling agent.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule maps a regex pattern to its replacement text.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies redaction rules to string values in result rows.
type Sanitizer struct {
	rules []compiledRule
}

// New compiles the rules into a Sanitizer. Returns an error on invalid
// regex patterns.
func New(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules reports whether any rules are configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// ApplyRow redacts string values in one result row in place and returns it.
// Values decoded from JSON-typed columns may nest; the walk recurses into
// maps and slices but leaves numeric, bool, and nil values untouched.
func (s *Sanitizer) ApplyRow(row map[string]any) map[string]any {
	if len(s.rules) == 0 {
		return row
	}
	for k, v := range row {
		row[k] = s.applyValue(v)
	}
	return row
}

// ApplyRows redacts every row of a materialized result set.
func (s *Sanitizer) ApplyRows(rows []map[string]any) []map[string]any {
	for _, row := range rows {
		s.ApplyRow(row)
	}
	return rows
}

func (s *Sanitizer) applyValue(v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range s.rules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]any:
		for k, nested := range val {
			val[k] = s.applyValue(nested)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = s.applyValue(item)
		}
		return val
	default:
		return v
	}
}
