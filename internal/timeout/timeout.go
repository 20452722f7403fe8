// Package timeout resolves per-statement timeouts and tracks the total
// tool-call budget that spans every statement of one logical operation.
package timeout

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// Rule is the timeout manager's own rule type.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves per-statement timeouts based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex patterns.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// GetTimeout returns the timeout for the given SQL.
// First matching rule wins. Falls back to default.
func (m *Manager) GetTimeout(sql string) time.Duration {
	timeout, _ := m.GetTimeoutWithPattern(sql)
	return timeout
}

// GetTimeoutWithPattern returns the timeout for the given SQL along with the
// pattern that matched, or an empty pattern when the default applied.
func (m *Manager) GetTimeoutWithPattern(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Budget is the total tool-call time allowance for one logical operation.
// Total == 0 means no total budget is configured and per-statement timeouts
// apply unchanged. Budget values are immutable; Effective is pure apart from
// reading the clock.
type Budget struct {
	Total   time.Duration
	Start   time.Time
	Default time.Duration
}

// NewBudget starts a budget now. total == 0 disables the total cap.
func NewBudget(total, perStatementDefault time.Duration) Budget {
	return Budget{Total: total, Start: time.Now(), Default: perStatementDefault}
}

// Remaining returns the unspent portion of the total budget. It is only
// meaningful when Total > 0; it may be negative once the budget is exhausted.
func (b Budget) Remaining() time.Duration {
	return b.Total - time.Since(b.Start)
}

// Grant is the outcome of one Effective call: the timeout to apply to the
// next statement, and whether it was clamped to the remaining total budget.
// A clamped grant that later expires means the total budget ran out, not the
// statement's own allowance.
type Grant struct {
	Timeout       time.Duration
	BudgetLimited bool
}

// Effective computes the timeout for the next underlying statement.
// requested == 0 means the caller did not ask for a specific timeout and the
// per-statement default applies. Call once per statement, not once per
// logical operation, so multi-statement operations re-check the shrinking
// remaining budget.
func (b Budget) Effective(requested time.Duration) (Grant, error) {
	if requested <= 0 {
		requested = b.Default
	}
	if b.Total <= 0 {
		return Grant{Timeout: requested}, nil
	}
	remaining := b.Remaining()
	if remaining <= 0 {
		return Grant{}, ExceededError(b.Total)
	}
	if remaining < requested {
		return Grant{Timeout: remaining, BudgetLimited: true}, nil
	}
	return Grant{Timeout: requested}, nil
}

// ExceededError builds the budget-exhaustion error for the given total.
func ExceededError(total time.Duration) error {
	return sqlerr.New(sqlerr.KindTimeoutExceeded,
		"Total tool timeout of %ds exceeded", int(total.Seconds()))
}
