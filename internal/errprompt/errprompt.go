// Package errprompt appends operator-configured guidance to error messages
// the calling agent is likely to mishandle — e.g. steering it toward
// sys.databases when a SQL Server login lacks VIEW ANY DATABASE.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule maps an error-message pattern to a guidance message.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher evaluates error messages against the configured rules.
type Matcher struct {
	rules []compiledRule
}

// New compiles the rules into a Matcher. Returns an error on invalid regex
// patterns.
func New(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Guidance returns the guidance messages of every rule whose pattern matches
// errMsg, joined by newlines, or an empty string when no rules match. The
// original error text is never altered; guidance is appended by the caller.
func (m *Matcher) Guidance(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns that matched errMsg, for logging.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}
